package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/squeezr/internal/encode"
)

// ChainStatus is the lifecycle of a fallback chain.
type ChainStatus int

const (
	ChainPending ChainStatus = iota
	ChainAttempting
	ChainSucceeded
	ChainFailed
)

func (s ChainStatus) String() string {
	switch s {
	case ChainPending:
		return "pending"
	case ChainAttempting:
		return "attempting"
	case ChainSucceeded:
		return "succeeded"
	case ChainFailed:
		return "failed"
	default:
		return fmt.Sprintf("ChainStatus(%d)", int(s))
	}
}

// ErrEmptyChain is returned for a job with no encoder configurations.
var ErrEmptyChain = errors.New("fallback chain is empty")

// Chain walks an ordered list of encoder configurations. It only moves
// forward: Pending -> Attempting(i) -> Succeeded | Failed.
type Chain struct {
	configs   []encode.ParameterSet
	status    ChainStatus
	index     int
	skipped   []encode.ParameterSet
	attempted []encode.ParameterSet
	errs      []error
}

// NewChain creates a chain that starts at configs[startAt]. An out of range
// start is clamped. Configs before the start are reported as skipped when
// the chain is exhausted.
func NewChain(configs []encode.ParameterSet, startAt int) *Chain {
	if startAt < 0 {
		startAt = 0
	}
	if n := len(configs); n > 0 && startAt >= n {
		startAt = n - 1
	}
	return &Chain{configs: configs, index: startAt, skipped: configs[:startAt]}
}

// Status returns the current state.
func (c *Chain) Status() ChainStatus { return c.status }

// Index returns the position of the current (or succeeding) config.
func (c *Chain) Index() int { return c.index }

// Current returns the config being attempted.
func (c *Chain) Current() encode.ParameterSet {
	return c.configs[c.index]
}

// Next moves Pending to Attempting(start) and returns that config. Once
// attempting it returns the current config again; Fail advances.
func (c *Chain) Next() (encode.ParameterSet, bool) {
	switch c.status {
	case ChainPending:
		if len(c.configs) == 0 {
			c.status = ChainFailed
			return encode.ParameterSet{}, false
		}
		c.status = ChainAttempting
		c.attempted = append(c.attempted, c.configs[c.index])
		return c.configs[c.index], true
	case ChainAttempting:
		return c.configs[c.index], true
	default:
		return encode.ParameterSet{}, false
	}
}

// Fail records err for the current config and advances to the next one.
// It reports whether another config remains.
func (c *Chain) Fail(err error) bool {
	if c.status != ChainAttempting {
		return false
	}
	c.errs = append(c.errs, err)
	if c.index+1 >= len(c.configs) {
		c.status = ChainFailed
		return false
	}
	c.index++
	c.attempted = append(c.attempted, c.configs[c.index])
	return true
}

// Succeed marks the current config as the one that worked.
func (c *Chain) Succeed() {
	if c.status == ChainAttempting {
		c.status = ChainSucceeded
	}
}

// Err returns the exhaustion error once the chain has failed.
func (c *Chain) Err() error {
	if c.status != ChainFailed {
		return nil
	}
	if len(c.configs) == 0 {
		return ErrEmptyChain
	}
	return &ChainExhaustedError{Skipped: c.skipped, Chain: c.attempted, Errs: c.errs}
}

// ChainExhaustedError is returned when every config in a chain failed.
// Skipped holds configs not attempted because they failed on an earlier
// job; Chain holds the configs this job attempted.
type ChainExhaustedError struct {
	Skipped []encode.ParameterSet
	Chain   []encode.ParameterSet
	Errs    []error
}

// Configs returns the full chain in order, skipped configs first.
func (e *ChainExhaustedError) Configs() []encode.ParameterSet {
	return append(append([]encode.ParameterSet(nil), e.Skipped...), e.Chain...)
}

func (e *ChainExhaustedError) Error() string {
	names := make([]string, 0, len(e.Skipped)+len(e.Chain))
	for _, p := range e.Skipped {
		names = append(names, p.String()+" (failed earlier)")
	}
	for _, p := range e.Chain {
		names = append(names, p.String())
	}
	msg := fmt.Sprintf("all %d encoder configs failed [%s]", len(names), strings.Join(names, ", "))
	if n := len(e.Errs); n > 0 {
		msg += ": " + e.Errs[n-1].Error()
	}
	return msg
}

func (e *ChainExhaustedError) Unwrap() []error {
	return e.Errs
}
