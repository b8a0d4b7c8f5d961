package announce

import (
	"context"
	"errors"
	"io"

	"github.com/colorfulnotion/jamjit/jit"
)

// Options selects which sinks Open sets up.
type Options struct {
	// PerfMap writes /tmp/perf-<pid>.map (or PerfMapDir).
	PerfMap    bool
	PerfMapDir string
	// SymbolDB is the symbol index path; "" disables it unless
	// MemorySymbols is set.
	SymbolDB      string
	MemorySymbols bool
	// Stream enables the websocket broadcaster; mount Sinks.Stream yourself.
	Stream bool
	Log    bool
}

// Sinks is a set of opened announcers behaving as one.
type Sinks struct {
	PerfMap *PerfMap
	Symbols *SymbolIndex
	Stream  *Stream

	all     []jit.Announcer
	fan     jit.Announcer
	closers []io.Closer
}

// Open creates the sinks named by opts. On error everything opened so far
// is closed.
func Open(ctx context.Context, opts Options) (*Sinks, error) {
	s := &Sinks{}
	if opts.PerfMap {
		pm, err := OpenPerfMap(opts.PerfMapDir)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.PerfMap = pm
		s.add(pm, pm)
	}
	if opts.SymbolDB != "" || opts.MemorySymbols {
		idx, err := OpenSymbolIndex(opts.SymbolDB)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Symbols = idx
		s.add(idx, idx)
	}
	if opts.Stream {
		st := NewStream(ctx)
		s.Stream = st
		s.add(st, st)
	}
	if opts.Log {
		s.add(LogSink{}, nil)
	}
	return s, nil
}

func (s *Sinks) add(a jit.Announcer, c io.Closer) {
	s.all = append(s.all, a)
	s.fan = jit.MultiAnnouncer(s.all...)
	if c != nil {
		s.closers = append(s.closers, c)
	}
}

// Announce implements jit.Announcer.
func (s *Sinks) Announce(addr uintptr, size int, name string) {
	jit.SafeAnnounce(s.fan, addr, size, name)
}

// Len returns the number of active sinks.
func (s *Sinks) Len() int { return len(s.all) }

// Close closes every sink and joins their errors.
func (s *Sinks) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers, s.all, s.fan = nil, nil, nil
	return errors.Join(errs...)
}
