package jit

import "fmt"

// Strategy picks the committer used by a runtime's builder.
type Strategy uint8

const (
	StrategyDefault Strategy = iota
	StrategyRegion
	StrategyInline
)

func (s Strategy) String() string {
	switch s {
	case StrategyDefault:
		return "default"
	case StrategyRegion:
		return "region"
	case StrategyInline:
		return "inline"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// ParseStrategy accepts "", "default", "region" and "inline".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "default":
		return StrategyDefault, nil
	case "region":
		return StrategyRegion, nil
	case "inline":
		return StrategyInline, nil
	default:
		return StrategyDefault, fmt.Errorf("unknown strategy %q", s)
	}
}

// Resolve maps StrategyDefault to the platform choice.
func (s Strategy) Resolve() Strategy {
	if s == StrategyDefault {
		return platformStrategy
	}
	return s
}
