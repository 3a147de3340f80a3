// Package tiered provides a Hot/Cold tiered entitlement store that fronts a
// durable store (Cold) with a fast shared copy (Hot), so instances of the
// service can answer premium checks without hitting the database.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// HotStore is the contract of the fast tier. storage/redis, storage/firestore
// and storage/memory all satisfy it.
type HotStore interface {
	GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error)
	SetEntitlement(ctx context.Context, ent *entitlement.Entitlement) error
	DeleteEntitlement(ctx context.Context, userID string) error
}

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 storage (e.g., Redis, Memory) serving reads
	Hot HotStore

	// Cold is the L2 persistence storage (e.g., Postgres, SQLite) as the source of truth
	Cold entitlement.Storage

	// AsyncHotSync refreshes the hot copies of changed users on a background
	// worker instead of inline with the transition.
	AsyncHotSync bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a hot refresh fails.
	// Essential for monitoring consistency drift.
	AsyncErrorHandler func(error)
}

// Storage implements entitlement.Storage on top of a Hot and a Cold tier.
//   - Read-Through: GetEntitlement (Hot → Cold → populate Hot)
//   - Cold-Primary: transitions run their conditional update on Cold, then
//     the hot copies of the users they changed are refreshed from Cold
//
// Every hot write is followed by a re-read of the cold row. When a
// transition committed in between, the hot copy is dropped instead of kept,
// so a snapshot taken before a transition never outlives it in Hot.
type Storage struct {
	hot  HotStore
	cold entitlement.Storage
	conf Config

	// Channel for async synchronization
	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotSync {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncHotSync {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background synchronization loop.
// Jobs run sequentially so refreshes of the same user apply in order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					s.reportError(fmt.Errorf("tiered sync failed: %w", err))
				}
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) reportError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// GetEntitlement implements entitlement.Storage with read-through strategy.
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	// 1. Try Hot
	ent, err := s.hot.GetEntitlement(ctx, userID)
	if err == nil {
		return ent, nil
	}

	// 2. Try Cold (Source of Truth)
	ent, err = s.cold.GetEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 3. Populate Hot (Read-Repair)
	if err := s.fill(ctx, ent); err != nil {
		s.reportError(fmt.Errorf("tiered storage: read repair failed: %w", err))
	}

	return ent, nil
}

// --- Strategy: Cold-Primary (Cold CAS → refresh Hot) ---

// ActivateSubscription implements entitlement.Storage
func (s *Storage) ActivateSubscription(ctx context.Context, req *entitlement.ActivationRequest) (bool, error) {
	changed, err := s.cold.ActivateSubscription(ctx, req)
	if err != nil {
		return false, err
	}
	if changed {
		s.refresh(ctx, []string{req.UserID})
	}
	return changed, nil
}

// DeactivateSubscription implements entitlement.Storage
func (s *Storage) DeactivateSubscription(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	ids, err := s.cold.DeactivateSubscription(ctx, subscriptionID, at)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, ids)
	return ids, nil
}

// MarkPaymentFailed implements entitlement.Storage
func (s *Storage) MarkPaymentFailed(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	ids, err := s.cold.MarkPaymentFailed(ctx, subscriptionID, at)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, ids)
	return ids, nil
}

// refresh copies the cold rows of userIDs into the hot tier
func (s *Storage) refresh(ctx context.Context, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}

	if !s.conf.AsyncHotSync {
		for _, id := range userIDs {
			if err := s.refreshOne(ctx, id); err != nil {
				s.reportError(fmt.Errorf("tiered storage: hot refresh failed: %w", err))
			}
		}
		return
	}

	ids := append([]string(nil), userIDs...)
	select {
	case s.syncQueue <- func() error {
		// Context background ensures completion even if request cancels
		var errs []error
		for _, id := range ids {
			if err := s.refreshOne(context.Background(), id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}:
	default:
		s.reportError(errors.New("tiered storage: sync queue full, invalidating hot copies"))
		for _, id := range ids {
			_ = s.hot.DeleteEntitlement(ctx, id) //nolint:errcheck // Next read repairs from Cold
		}
	}
}

// refreshOne writes the cold row of userID to the hot tier, or drops the hot
// copy when the cold row cannot be read
func (s *Storage) refreshOne(ctx context.Context, userID string) error {
	ent, err := s.cold.GetEntitlement(ctx, userID)
	if err != nil {
		if delErr := s.hot.DeleteEntitlement(ctx, userID); delErr != nil {
			return fmt.Errorf("user %s: %w", userID, errors.Join(err, delErr))
		}
		return nil
	}
	if err := s.fill(ctx, ent); err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	return nil
}

// fill writes ent to the hot tier, then re-reads the cold row and drops the
// hot copy unless Cold still holds the same entitlement.
func (s *Storage) fill(ctx context.Context, ent *entitlement.Entitlement) error {
	if err := s.hot.SetEntitlement(ctx, ent); err != nil {
		_ = s.hot.DeleteEntitlement(ctx, ent.UserID) //nolint:errcheck // Next read repairs from Cold
		return err
	}

	current, err := s.cold.GetEntitlement(ctx, ent.UserID)
	if err == nil && sameEntitlement(ent, current) {
		return nil
	}
	if delErr := s.hot.DeleteEntitlement(ctx, ent.UserID); delErr != nil {
		return fmt.Errorf("drop superseded hot copy: %w", delErr)
	}
	return nil
}

func sameEntitlement(a, b *entitlement.Entitlement) bool {
	if a.IsPremium != b.IsPremium || a.SubscriptionID != b.SubscriptionID || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if a.PaymentFailedAt == nil || b.PaymentFailedAt == nil {
		return a.PaymentFailedAt == nil && b.PaymentFailedAt == nil
	}
	return a.PaymentFailedAt.Equal(*b.PaymentFailedAt)
}
