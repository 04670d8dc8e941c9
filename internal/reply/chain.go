package reply

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/metrics"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
)

// ErrAllProvidersFailed indicates every provider in the chain failed or was
// not configured.
var ErrAllProvidersFailed = errors.New("all reply providers failed")

// Result is one successful draft with its provenance.
type Result struct {
	Body       string
	Provider   string
	TokensUsed int
}

// Chain tries providers in the tenant's configured order and records every
// attempt. The order is strict: provider N+1 is only consulted after
// provider N failed.
type Chain struct {
	providers map[string]Provider
	attempts  *repository.ReplyAttemptRepository
	logger    *log.Logger
	now       func() time.Time
}

// ChainOption customizes the chain.
type ChainOption func(*Chain)

func NewChain(attempts *repository.ReplyAttemptRepository, providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: make(map[string]Provider, len(providers)),
		attempts:  attempts,
		logger:    log.New(log.Writer(), "[REPLY] ", log.LstdFlags),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, p := range providers {
		if p != nil {
			c.providers[p.Name()] = p
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithChainLogger overrides the diagnostics logger.
func WithChainLogger(logger *log.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithChainClock overrides the wall clock, primarily for tests.
func WithChainClock(now func() time.Time) ChainOption {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// Draft produces a reply for message using the tenant's provider order. Every
// provider call, failed or not, leaves a reply attempt row. The last
// provider error is wrapped into the returned error when the whole chain
// fails.
func (c *Chain) Draft(ctx context.Context, message *models.IncomingMessage, settings *models.TenantAISettings) (*Result, error) {
	order := settings.ProviderOrder()
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrAllProvidersFailed)
	}

	req := Request{
		FromAddress: message.FromAddress,
		Subject:     message.Subject,
		Body:        message.Body,
		Tone:        settings.ReplyTone,
		Model:       settings.Model,
	}

	var lastErr error
	for _, name := range order {
		provider, ok := c.providers[name]
		if !ok {
			lastErr = fmt.Errorf("provider %s not configured", name)
			c.record(ctx, message.ID, name, 0, 0, lastErr)
			continue
		}

		started := c.now()
		draft, err := provider.Draft(ctx, req)
		elapsed := c.now().Sub(started)
		c.record(ctx, message.ID, name, elapsed, draft.TokensUsed, err)
		if err != nil {
			lastErr = err
			c.logger.Printf("provider %s failed for message %d: %v", name, message.ID, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return &Result{Body: draft.Body, Provider: name, TokensUsed: draft.TokensUsed}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

func (c *Chain) record(ctx context.Context, messageID int, provider string, elapsed time.Duration, tokens int, draftErr error) {
	outcome := "success"
	if draftErr != nil {
		outcome = "error"
	}
	metrics.ProviderAttempts.WithLabelValues(provider, outcome).Inc()

	attempt := &models.ReplyAttempt{
		MessageID:  messageID,
		Provider:   provider,
		OK:         draftErr == nil,
		DurationMS: elapsed.Milliseconds(),
		TokensUsed: tokens,
	}
	if draftErr != nil {
		text := draftErr.Error()
		attempt.ErrorText = &text
	}
	if err := c.attempts.Record(ctx, attempt); err != nil {
		c.logger.Printf("failed to record attempt for message %d: %v", messageID, err)
	}
}
