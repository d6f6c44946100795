// Package locate resolves logical UI targets against unversioned markup.
//
// A Target names a logical element ("domain input field") together with an
// ordered list of locator strategies. Strategies are tried in declared order,
// each bounded by its own timeout; the first strategy matching a visible,
// attached element wins. Resolution always probes the live page, never a
// cached handle.
package locate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// By identifies the selector language of a strategy.
type By string

const (
	ByCSS   By = "css"
	ByXPath By = "xpath"
)

// Strategy is one candidate way of locating a target. A zero Timeout falls
// back to the resolver's default.
type Strategy struct {
	By       By
	Selector string
	Timeout  time.Duration
}

// Target is a logical UI element with its ordered candidate strategies.
type Target struct {
	Name       string
	Candidates []Strategy
}

// Handle is the winning strategy for a resolved target. It carries no element
// reference; interactions re-query the page through the selector.
type Handle struct {
	Target   string
	By       By
	Selector string
}

// NotFoundError reports that every candidate strategy was exhausted.
type NotFoundError struct {
	Target string
	Tried  int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("element %q not found after trying %d locator strategies", e.Target, e.Tried)
}

// Prober answers whether a strategy currently matches a visible element.
// Implementations must re-query the live page on every call so that a stale,
// detached element can never satisfy resolution.
type Prober interface {
	ProbeVisible(ctx context.Context, s Strategy) (bool, error)
}

// Resolver tries a target's strategies in order against a Prober.
type Resolver struct {
	prober         Prober
	defaultTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger
}

// NewResolver creates a Resolver. defaultTimeout bounds candidates that do not
// declare their own.
func NewResolver(prober Prober, defaultTimeout time.Duration, logger *zap.Logger) *Resolver {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Resolver{
		prober:         prober,
		defaultTimeout: defaultTimeout,
		pollInterval:   100 * time.Millisecond,
		logger:         logger.Named("locate"),
	}
}

// Resolve returns the first candidate strategy that matches a visible element
// within its timeout, in declared order. Later candidates are never probed
// once an earlier one matches. Exhausting all candidates yields *NotFoundError.
func (r *Resolver) Resolve(ctx context.Context, target Target) (Handle, error) {
	if len(target.Candidates) == 0 {
		return Handle{}, fmt.Errorf("target %q has no locator strategies", target.Name)
	}

	for i, candidate := range target.Candidates {
		matched, err := r.tryStrategy(ctx, candidate)
		if err != nil {
			// Context errors abort resolution; probe errors just disqualify
			// this candidate.
			if ctx.Err() != nil {
				return Handle{}, ctx.Err()
			}
			r.logger.Debug("Locator strategy errored",
				zap.String("target", target.Name),
				zap.String("selector", candidate.Selector),
				zap.Error(err))
			continue
		}
		if matched {
			r.logger.Debug("Target resolved",
				zap.String("target", target.Name),
				zap.Int("strategy_index", i),
				zap.String("selector", candidate.Selector))
			return Handle{Target: target.Name, By: candidate.By, Selector: candidate.Selector}, nil
		}
	}

	return Handle{}, &NotFoundError{Target: target.Name, Tried: len(target.Candidates)}
}

// tryStrategy polls the prober until the strategy matches or its timeout lapses.
func (r *Resolver) tryStrategy(ctx context.Context, s Strategy) (bool, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	tryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		matched, err := r.prober.ProbeVisible(tryCtx, s)
		if err != nil {
			// A probe error against a deadline means the candidate timed out,
			// which is not an error for ordered resolution.
			if tryCtx.Err() != nil && ctx.Err() == nil {
				return false, nil
			}
			return false, err
		}
		if matched {
			return true, nil
		}

		select {
		case <-ticker.C:
		case <-tryCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		}
	}
}
