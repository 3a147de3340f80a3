// Package firestore provides a Firestore implementation of entitlement.Storage.
// Transitions run inside Firestore transactions, which retry on contention,
// so each check and its write observe the same document version.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

const (
	fieldIsPremium       = "isPremium"
	fieldSubscriptionID  = "subscriptionId"
	fieldPaymentFailedAt = "paymentFailedAt"
	fieldUpdatedAt       = "updatedAt"
)

// Storage implements entitlement.Storage using Google Cloud Firestore
type Storage struct {
	client                 *firestore.Client
	entitlementsCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// EntitlementsCollection is the Firestore collection for user entitlements
	// Default: "entitlements"
	EntitlementsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.EntitlementsCollection == "" {
		config.EntitlementsCollection = "entitlements"
	}

	return &Storage{
		client:                 client,
		entitlementsCollection: config.EntitlementsCollection,
	}, nil
}

func (s *Storage) doc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.entitlementsCollection).Doc(userID)
}

// GetEntitlement implements entitlement.Storage
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	snap, err := s.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitlement.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	if !snap.Exists() {
		return nil, entitlement.ErrUserNotFound
	}
	return decodeEntitlement(userID, snap.Data()), nil
}

// SetEntitlement writes a complete entitlement, replacing any stored copy
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitlement.Entitlement) error {
	if ent == nil || ent.UserID == "" {
		return fmt.Errorf("invalid entitlement")
	}
	if _, err := s.doc(ent.UserID).Set(ctx, encodeEntitlement(ent)); err != nil {
		return fmt.Errorf("failed to set entitlement: %w", err)
	}
	return nil
}

// DeleteEntitlement removes a user's entitlement document
func (s *Storage) DeleteEntitlement(ctx context.Context, userID string) error {
	if _, err := s.doc(userID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete entitlement: %w", err)
	}
	return nil
}

// ActivateSubscription implements entitlement.Storage
func (s *Storage) ActivateSubscription(ctx context.Context, req *entitlement.ActivationRequest) (bool, error) {
	if req == nil || req.UserID == "" || req.SubscriptionID == "" {
		return false, entitlement.ErrInvalidActivation
	}

	doc := s.doc(req.UserID)
	var changed bool

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		changed = false

		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return entitlement.ErrUserNotFound
			}
			return err
		}
		if getString(snap.Data(), fieldSubscriptionID) == req.SubscriptionID {
			return nil
		}

		changed = true
		return tx.Update(doc, []firestore.Update{
			{Path: fieldIsPremium, Value: true},
			{Path: fieldSubscriptionID, Value: req.SubscriptionID},
			{Path: fieldPaymentFailedAt, Value: firestore.Delete},
			{Path: fieldUpdatedAt, Value: req.At.UTC()},
		})
	})
	if err != nil {
		if errors.Is(err, entitlement.ErrUserNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to activate subscription: %w", err)
	}
	return changed, nil
}

// DeactivateSubscription implements entitlement.Storage
func (s *Storage) DeactivateSubscription(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	return s.updateSubscribers(ctx, subscriptionID, func(_ map[string]interface{}) []firestore.Update {
		return []firestore.Update{
			{Path: fieldIsPremium, Value: false},
			{Path: fieldUpdatedAt, Value: at.UTC()},
		}
	})
}

// MarkPaymentFailed implements entitlement.Storage
func (s *Storage) MarkPaymentFailed(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	return s.updateSubscribers(ctx, subscriptionID, func(data map[string]interface{}) []firestore.Update {
		if _, failed := data[fieldPaymentFailedAt].(time.Time); failed {
			return nil
		}
		return []firestore.Update{
			{Path: fieldPaymentFailedAt, Value: at.UTC()},
			{Path: fieldUpdatedAt, Value: at.UTC()},
		}
	})
}

// updateSubscribers applies the updates returned by fn to every premium
// document holding subscriptionID, in one transaction. A nil result skips
// the document.
func (s *Storage) updateSubscribers(
	ctx context.Context,
	subscriptionID string,
	fn func(data map[string]interface{}) []firestore.Update,
) ([]string, error) {
	query := s.client.Collection(s.entitlementsCollection).
		Where(fieldSubscriptionID, "==", subscriptionID).
		Where(fieldIsPremium, "==", true)

	var ids []string
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		ids = make([]string, 0)

		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			updates := fn(snap.Data())
			if updates == nil {
				continue
			}
			if err := tx.Update(snap.Ref, updates); err != nil {
				return err
			}
			ids = append(ids, snap.Ref.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update entitlements: %w", err)
	}
	return ids, nil
}

// Close closes the Firestore client
func (s *Storage) Close() error {
	return s.client.Close()
}

func encodeEntitlement(ent *entitlement.Entitlement) map[string]interface{} {
	data := map[string]interface{}{
		fieldIsPremium:      ent.IsPremium,
		fieldSubscriptionID: ent.SubscriptionID,
		fieldUpdatedAt:      ent.UpdatedAt.UTC(),
	}
	if ent.PaymentFailedAt != nil {
		data[fieldPaymentFailedAt] = ent.PaymentFailedAt.UTC()
	}
	return data
}

func decodeEntitlement(userID string, data map[string]interface{}) *entitlement.Entitlement {
	ent := &entitlement.Entitlement{
		UserID:         userID,
		SubscriptionID: getString(data, fieldSubscriptionID),
		UpdatedAt:      getTime(data, fieldUpdatedAt),
	}
	if v, ok := data[fieldIsPremium].(bool); ok {
		ent.IsPremium = v
	}
	if failed, ok := data[fieldPaymentFailedAt].(time.Time); ok && !failed.IsZero() {
		ent.PaymentFailedAt = &failed
	}
	return ent
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
