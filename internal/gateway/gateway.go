package gateway

import (
	"context"
)

// RuleName is the fixed, well-known name of the one forwarding rule this
// service manages per mailbox. Fixed naming is what makes
// CreateOrUpdateRule safe to retry after an ambiguous failure.
const RuleName = "scheduled-forwarding"

// Rule is the external mail system's forwarding rule object as seen
// through the gateway.
type Rule struct {
	ID        string
	Name      string
	ForwardTo string
	Enabled   bool
}

// RuleGateway abstracts the mail system's forwarding rule API. Every call
// can fail independently (network, permission, rate limit); callers must
// treat each one as fallible and never assume external state changed when
// an error comes back.
type RuleGateway interface {
	// GetRule returns the managed forwarding rule for the mailbox, or nil
	// when none exists.
	GetRule(ctx context.Context, mailbox string) (*Rule, error)

	// CreateOrUpdateRule creates the managed rule or updates it in place,
	// with the requested enabled state.
	CreateOrUpdateRule(ctx context.Context, mailbox, forwardTo, forwardName string, enabled bool) (*Rule, error)

	// Enable turns the rule on without changing its destination.
	Enable(ctx context.Context, mailbox, ruleID string) error

	// Disable turns the rule off; mail stops forwarding but the rule object
	// may remain.
	Disable(ctx context.Context, mailbox, ruleID string) error

	// Delete removes the rule entirely. Returns false when there was
	// nothing to delete.
	Delete(ctx context.Context, mailbox, ruleID string) (bool, error)
}
