package jit

// darwin refuses to flip shared pages between writable and executable at
// run time, so each function gets its own sealed buffer.
const platformStrategy = StrategyInline
