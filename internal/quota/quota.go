// Package quota tracks per-principal usage per scope and decides whether a
// caller has exhausted its allowance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrExceeded is returned by Gate.Check when the principal has no allowance left in the scope.
var ErrExceeded = errors.New("quota exceeded")

// anonymous is the ledger principal for callers that did not identify themselves.
const anonymous = "anonymous"

// Ledger records usage and answers allowance checks. Implementations must be safe for concurrent use.
type Ledger interface {
	HasExceeded(ctx context.Context, principal, scope string) (bool, error)
	Record(ctx context.Context, principal, scope string, units int64) error
}

// Allowances maps scopes to the units a principal may consume per window.
// A limit <= 0 means unlimited.
type Allowances struct {
	Default  int64
	PerScope map[string]int64
}

// For returns the allowance of scope.
func (a Allowances) For(scope string) int64 {
	if n, ok := a.PerScope[scope]; ok {
		return n
	}
	return a.Default
}

// Op names a gateable document store operation.
type Op string

const (
	OpSearch Op = "search"
	OpAdd    Op = "add"
	OpList   Op = "list"
)

// Policy selects which operations consult the ledger.
type Policy struct {
	Search bool
	Add    bool
	List   bool
}

// DefaultPolicy gates search only.
var DefaultPolicy = Policy{Search: true}

// Gated reports whether op is subject to quota.
func (p Policy) Gated(op Op) bool {
	switch op {
	case OpSearch:
		return p.Search
	case OpAdd:
		return p.Add
	case OpList:
		return p.List
	}
	return false
}

// Gate applies a Policy to a Ledger with a per-call timeout.
type Gate struct {
	ledger  Ledger
	policy  Policy
	timeout time.Duration
	logger  *zap.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(l *zap.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate returns a Gate. A nil ledger never reports exhaustion; timeout <= 0 means no extra deadline.
func NewGate(ledger Ledger, policy Policy, timeout time.Duration, opts ...GateOption) *Gate {
	if ledger == nil {
		ledger = Unlimited{}
	}
	g := &Gate{ledger: ledger, policy: policy, timeout: timeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the gate's policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Check returns ErrExceeded when op is gated and principal has exhausted scope.
// Ledger failures are returned wrapped; callers must not proceed on any error.
func (g *Gate) Check(ctx context.Context, op Op, principal, scope string) error {
	if !g.policy.Gated(op) {
		return nil
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	exceeded, err := g.ledger.HasExceeded(ctx, principalKey(principal), scope)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if exceeded {
		g.logger.Debug("quota exceeded", zap.String("op", string(op)), zap.String("principal", principal), zap.String("scope", scope))
		return ErrExceeded
	}
	return nil
}

// Record consumes one unit for a gated op. Failures are logged and returned.
func (g *Gate) Record(ctx context.Context, op Op, principal, scope string) error {
	if !g.policy.Gated(op) {
		return nil
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := g.ledger.Record(ctx, principalKey(principal), scope, 1); err != nil {
		g.logger.Warn("failed to record quota usage", zap.String("op", string(op)), zap.String("principal", principal), zap.String("scope", scope), zap.Error(err))
		return fmt.Errorf("quota record: %w", err)
	}
	return nil
}

func (g *Gate) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

func principalKey(principal string) string {
	if principal == "" {
		return anonymous
	}
	return principal
}

// Unlimited is a Ledger that never reports exhaustion and records nothing.
type Unlimited struct{}

func (Unlimited) HasExceeded(context.Context, string, string) (bool, error) { return false, nil }

func (Unlimited) Record(context.Context, string, string, int64) error { return nil }
