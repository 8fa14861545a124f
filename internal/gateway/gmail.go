package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mail-forward-scheduler/internal/config"
)

// Gmail exposes auto-forwarding as a single per-mailbox setting rather
// than an addressable rule object, so the adapter reports this fixed id.
const gmailRuleID = "autoForward"

// GmailGateway implements RuleGateway against the Gmail API's
// users.settings auto-forwarding endpoints.
type GmailGateway struct {
	service     *gmail.Service
	callTimeout time.Duration
	limiter     *rate.Limiter
}

// NewGmailGateway creates a Gmail-backed rule gateway
func NewGmailGateway(cfg *config.GmailConfig, callTimeout time.Duration, rps float64) (*GmailGateway, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes: []string{
			gmail.GmailSettingsBasicScope,
			gmail.GmailSettingsSharingScope,
		},
		Endpoint: google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}

	return &GmailGateway{
		service:     service,
		callTimeout: callTimeout,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// GetRule fetches the mailbox's auto-forwarding state
func (g *GmailGateway) GetRule(ctx context.Context, mailbox string) (*Rule, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	forwarding, err := g.service.Users.Settings.GetAutoForwarding(mailbox).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get auto-forwarding for %s: %w", mailbox, err)
	}

	if forwarding.EmailAddress == "" && !forwarding.Enabled {
		return nil, nil
	}

	return &Rule{
		ID:        gmailRuleID,
		Name:      RuleName,
		ForwardTo: forwarding.EmailAddress,
		Enabled:   forwarding.Enabled,
	}, nil
}

// CreateOrUpdateRule registers the destination as a forwarding address if
// needed, then sets the mailbox's auto-forwarding state. Both steps are
// idempotent, so a retry after an ambiguous failure is safe.
func (g *GmailGateway) CreateOrUpdateRule(ctx context.Context, mailbox, forwardTo, forwardName string, enabled bool) (*Rule, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()

	if enabled {
		if err := g.ensureForwardingAddress(ctx, mailbox, forwardTo); err != nil {
			return nil, err
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	forwarding := &gmail.AutoForwarding{
		EmailAddress:    forwardTo,
		Enabled:         enabled,
		Disposition:     "leaveInInbox",
		ForceSendFields: []string{"Enabled"},
	}

	updated, err := g.service.Users.Settings.UpdateAutoForwarding(mailbox, forwarding).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to update auto-forwarding for %s: %w", mailbox, err)
	}

	logrus.Infof("Auto-forwarding for %s set to %s (enabled=%t)", mailbox, forwardTo, enabled)

	return &Rule{
		ID:        gmailRuleID,
		Name:      RuleName,
		ForwardTo: updated.EmailAddress,
		Enabled:   updated.Enabled,
	}, nil
}

// Enable turns auto-forwarding back on, keeping the recorded destination
func (g *GmailGateway) Enable(ctx context.Context, mailbox, ruleID string) error {
	rule, err := g.GetRule(ctx, mailbox)
	if err != nil {
		return err
	}
	if rule == nil || rule.ForwardTo == "" {
		return fmt.Errorf("no forwarding destination recorded for %s", mailbox)
	}

	_, err = g.CreateOrUpdateRule(ctx, mailbox, rule.ForwardTo, "", true)
	return err
}

// Disable turns auto-forwarding off without clearing the destination
func (g *GmailGateway) Disable(ctx context.Context, mailbox, ruleID string) error {
	ctx, cancel := g.callContext(ctx)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	forwarding := &gmail.AutoForwarding{
		Enabled:         false,
		ForceSendFields: []string{"Enabled"},
	}

	if _, err := g.service.Users.Settings.UpdateAutoForwarding(mailbox, forwarding).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to disable auto-forwarding for %s: %w", mailbox, err)
	}

	logrus.Infof("Auto-forwarding disabled for %s", mailbox)
	return nil
}

// Delete clears the auto-forwarding setting entirely
func (g *GmailGateway) Delete(ctx context.Context, mailbox, ruleID string) (bool, error) {
	rule, err := g.GetRule(ctx, mailbox)
	if err != nil {
		return false, err
	}
	if rule == nil {
		return false, nil
	}

	if err := g.Disable(ctx, mailbox, ruleID); err != nil {
		return false, err
	}
	return true, nil
}

// ensureForwardingAddress registers the destination with Gmail if it is
// not already on the mailbox's forwarding address list. Gmail rejects
// UpdateAutoForwarding for unregistered destinations.
func (g *GmailGateway) ensureForwardingAddress(ctx context.Context, mailbox, forwardTo string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	_, err := g.service.Users.Settings.ForwardingAddresses.Get(mailbox, forwardTo).Context(ctx).Do()
	if err == nil {
		return nil
	}
	if gErr, ok := err.(*googleapi.Error); !ok || gErr.Code != http.StatusNotFound {
		return fmt.Errorf("failed to check forwarding address %s: %w", forwardTo, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	address := &gmail.ForwardingAddress{ForwardingEmail: forwardTo}
	created, err := g.service.Users.Settings.ForwardingAddresses.Create(mailbox, address).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to register forwarding address %s: %w", forwardTo, err)
	}

	// accepted means Gmail sent a confirmation mail the destination owner
	// still has to act on; forwarding will not take effect until then
	if created.VerificationStatus == "pending" {
		logrus.Warnf("Forwarding address %s for %s is pending verification", forwardTo, mailbox)
	}

	return nil
}

func (g *GmailGateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.callTimeout)
}
