// Package scheduler runs sync passes over all active mailboxes with bounded
// concurrency and per-mailbox isolation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/email/connector"
	"github.com/mailpilot-io/mailpilot-ce/internal/metrics"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/secrets"
)

const (
	defaultWorkers    = 4
	defaultFetchLimit = 50
)

// Skip reasons reported per account.
const (
	SkipMissingParams = "missing inbound parameters"
	SkipAlreadyLocked = "sync already in progress"
)

// AccountResult is the outcome of one mailbox within a pass.
type AccountResult struct {
	AccountID  int    `json:"account_id"`
	Email      string `json:"email"`
	Inserted   int    `json:"inserted"`
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PassResult summarizes one full sync pass. Inserted counts messages newly
// stored by the pass; redelivered duplicates do not count.
type PassResult struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Inserted  int             `json:"inserted"`
	Results   []AccountResult `json:"results"`
}

// insertCounter tallies how many handled messages were newly stored.
type insertCounter struct {
	inner connector.Handler

	mu       sync.Mutex
	inserted int
}

func (h *insertCounter) Handle(ctx context.Context, msg *connector.FetchedMessage) (bool, error) {
	stored, err := h.inner.Handle(ctx, msg)
	if stored {
		h.mu.Lock()
		h.inserted++
		h.mu.Unlock()
	}
	return stored, err
}

func (h *insertCounter) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inserted
}

// Syncer fans sync work out over a bounded worker pool. A per-account keyed
// mutex guarantees no two passes ever open the same mailbox concurrently;
// an account already being synced is skipped, not queued.
type Syncer struct {
	accounts   *repository.MailAccountRepository
	factory    connector.Factory
	handler    connector.Handler
	sealer     *secrets.Sealer
	locks      *KeyedMutex
	workers    int
	fetchLimit int
	logger     *log.Logger
}

// SyncerOption customizes the syncer.
type SyncerOption func(*Syncer)

func NewSyncer(
	accounts *repository.MailAccountRepository,
	factory connector.Factory,
	handler connector.Handler,
	sealer *secrets.Sealer,
	opts ...SyncerOption,
) *Syncer {
	s := &Syncer{
		accounts:   accounts,
		factory:    factory,
		handler:    handler,
		sealer:     sealer,
		locks:      NewKeyedMutex(),
		workers:    defaultWorkers,
		fetchLimit: defaultFetchLimit,
		logger:     log.New(log.Writer(), "[SYNC] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithWorkers bounds the number of mailboxes synced concurrently.
func WithWorkers(workers int) SyncerOption {
	return func(s *Syncer) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithFetchLimit caps how many messages one mailbox yields per pass.
func WithFetchLimit(limit int) SyncerOption {
	return func(s *Syncer) {
		if limit > 0 {
			s.fetchLimit = limit
		}
	}
}

// WithSyncerLogger overrides the diagnostics logger.
func WithSyncerLogger(logger *log.Logger) SyncerOption {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// RunPass syncs every active mailbox once. A failing mailbox never affects
// the others; per-account errors are collected into the result and joined
// into the returned error.
func (s *Syncer) RunPass(ctx context.Context) (*PassResult, error) {
	started := time.Now()
	defer func() { metrics.SyncDuration.Observe(time.Since(started).Seconds()) }()

	accounts, err := s.accounts.GetActiveAccounts(ctx)
	if err != nil {
		metrics.SyncPasses.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load active accounts: %w", err)
	}

	result := &PassResult{Total: len(accounts)}
	if len(accounts) == 0 {
		return result, nil
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var passErrs []error

	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}

		if !account.HasInboundParams() {
			mu.Lock()
			result.Skipped++
			result.Results = append(result.Results, AccountResult{
				AccountID:  account.ID,
				Email:      account.EmailAddress,
				Skipped:    true,
				SkipReason: SkipMissingParams,
			})
			mu.Unlock()
			continue
		}

		lockKey := accountLockKey(account.ID)
		if !s.locks.TryLocked(lockKey) {
			s.logger.Printf("account %d (%s) already syncing, skipping", account.ID, account.EmailAddress)
			mu.Lock()
			result.Skipped++
			result.Results = append(result.Results, AccountResult{
				AccountID:  account.ID,
				Email:      account.EmailAddress,
				Skipped:    true,
				SkipReason: SkipAlreadyLocked,
			})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(account *models.MailAccount) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.locks.Unlock(lockKey)

			inserted, err := s.syncAccount(ctx, account)

			mu.Lock()
			defer mu.Unlock()
			res := AccountResult{AccountID: account.ID, Email: account.EmailAddress, Inserted: inserted}
			result.Inserted += inserted
			if err != nil {
				s.logger.Printf("sync failed for account %d (%s): %v", account.ID, account.EmailAddress, err)
				res.Error = err.Error()
				result.Failed++
				passErrs = append(passErrs, fmt.Errorf("account %d: %w", account.ID, err))
			} else {
				result.Succeeded++
			}
			result.Results = append(result.Results, res)
		}(account)
	}

	wg.Wait()
	if len(passErrs) > 0 {
		metrics.SyncPasses.WithLabelValues("error").Inc()
	} else {
		metrics.SyncPasses.WithLabelValues("success").Inc()
	}
	return result, errors.Join(passErrs...)
}

// SyncAccount syncs a single mailbox on demand, honoring the same lock and
// ownership rules as a full pass. It returns how many messages the pass
// newly stored.
func (s *Syncer) SyncAccount(ctx context.Context, accountID int, tenantID string) (int, error) {
	account, err := s.accounts.GetByIDForTenant(ctx, accountID, tenantID)
	if err != nil {
		return 0, err
	}
	if !account.HasInboundParams() {
		return 0, fmt.Errorf("account %d has no inbound parameters", accountID)
	}

	lockKey := accountLockKey(account.ID)
	if !s.locks.TryLocked(lockKey) {
		return 0, fmt.Errorf("account %d sync already in progress", accountID)
	}
	defer s.locks.Unlock(lockKey)

	return s.syncAccount(ctx, account)
}

func (s *Syncer) syncAccount(ctx context.Context, account *models.MailAccount) (int, error) {
	password, err := s.sealer.Open(account.IMAPPasswordEncrypted)
	if err != nil {
		return 0, fmt.Errorf("unseal inbound credential: %w", err)
	}

	connAccount := connector.Account{
		ID:         account.ID,
		TenantID:   account.TenantID,
		Type:       account.InboundType,
		Host:       account.IMAPHost,
		Port:       account.IMAPPort,
		Username:   account.IMAPUsername,
		Password:   []byte(password),
		FetchLimit: s.fetchLimit,
	}
	fetcher, err := s.factory.FetcherFor(connAccount)
	if err != nil {
		return 0, err
	}
	counter := &insertCounter{inner: s.handler}
	err = fetcher.Fetch(ctx, connAccount, counter)
	return counter.count(), err
}

func accountLockKey(accountID int) string {
	return fmt.Sprintf("mail-account-%d", accountID)
}
