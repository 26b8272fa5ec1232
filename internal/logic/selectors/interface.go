package selectors

import "errors"

// ErrEmptyPool is returned when a strategy is asked to pick from an empty pool.
var ErrEmptyPool = errors.New("empty ad pool")

// Strategy defines a pluggable way of drawing one ad identifier from a segment's
// pool. Implementations must only ever return members of pool and must be safe
// for concurrent use.
type Strategy interface {
	Pick(pool []string) (string, error)
}

// StrategyFunc adapts an ordinary function to the Strategy interface.
type StrategyFunc func(pool []string) (string, error)

// Pick calls f(pool).
func (f StrategyFunc) Pick(pool []string) (string, error) {
	return f(pool)
}
