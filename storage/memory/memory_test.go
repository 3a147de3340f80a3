package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

func seedUser(t *testing.T, s *Storage, id, email, name string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &account.User{
		ID:           id,
		Email:        email,
		Name:         name,
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
}

func TestStorage_CreateUser_DuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "Ann")

	err := s.CreateUser(ctx, &account.User{ID: "u2", Email: "a@example.com", Name: "Other"})
	if !errors.Is(err, account.ErrEmailTaken) {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}

	u, err := s.GetUserByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if u.ID != "u1" || u.IsPremium || u.SubscriptionID != "" {
		t.Errorf("unexpected user: %+v", u)
	}

	if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, account.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestStorage_CreateUser_IgnoresEntitlementColumns(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.CreateUser(ctx, &account.User{
		ID: "u1", Email: "a@example.com", Name: "Ann",
		IsPremium: true, SubscriptionID: "sub_forged",
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	ent, err := s.GetEntitlement(ctx, "u1")
	if err != nil {
		t.Fatalf("GetEntitlement failed: %v", err)
	}
	if ent.IsPremium || ent.SubscriptionID != "" {
		t.Errorf("entitlement columns must start at defaults, got %+v", ent)
	}
}

func TestStorage_ActivateSubscription(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "Ann")
	now := time.Now().UTC()

	changed, err := s.ActivateSubscription(ctx, &entitlement.ActivationRequest{
		UserID: "u1", SubscriptionID: "sub_123", At: now,
	})
	if err != nil || !changed {
		t.Fatalf("first activation: changed=%v err=%v", changed, err)
	}

	changed, err = s.ActivateSubscription(ctx, &entitlement.ActivationRequest{
		UserID: "u1", SubscriptionID: "sub_123", At: now,
	})
	if err != nil || changed {
		t.Errorf("replayed activation: changed=%v err=%v", changed, err)
	}

	_, err = s.ActivateSubscription(ctx, &entitlement.ActivationRequest{
		UserID: "ghost", SubscriptionID: "sub_123", At: now,
	})
	if !errors.Is(err, entitlement.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestStorage_DeactivateRetainsSubscription(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "Ann")
	now := time.Now().UTC()

	if _, err := s.ActivateSubscription(ctx, &entitlement.ActivationRequest{
		UserID: "u1", SubscriptionID: "sub_123", At: now,
	}); err != nil {
		t.Fatalf("ActivateSubscription failed: %v", err)
	}

	ids, err := s.DeactivateSubscription(ctx, "sub_123", now)
	if err != nil {
		t.Fatalf("DeactivateSubscription failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u1" {
		t.Errorf("unexpected ids: %v", ids)
	}

	ent, _ := s.GetEntitlement(ctx, "u1")
	if ent.IsPremium || ent.SubscriptionID != "sub_123" {
		t.Errorf("expected (false, sub_123), got (%v, %s)", ent.IsPremium, ent.SubscriptionID)
	}

	ids, err = s.DeactivateSubscription(ctx, "sub_123", now)
	if err != nil || len(ids) != 0 {
		t.Errorf("second deactivation: ids=%v err=%v", ids, err)
	}

	// A stale replay of the activation is rejected by the retained id
	changed, err := s.ActivateSubscription(ctx, &entitlement.ActivationRequest{
		UserID: "u1", SubscriptionID: "sub_123", At: now,
	})
	if err != nil || changed {
		t.Errorf("stale activation: changed=%v err=%v", changed, err)
	}
}

func TestStorage_MarkPaymentFailed(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "Ann")
	now := time.Now().UTC()

	ids, err := s.MarkPaymentFailed(ctx, "sub_123", now)
	if err != nil || len(ids) != 0 {
		t.Fatalf("free user: ids=%v err=%v", ids, err)
	}

	if _, err := s.ActivateSubscription(ctx, &entitlement.ActivationRequest{
		UserID: "u1", SubscriptionID: "sub_123", At: now,
	}); err != nil {
		t.Fatalf("ActivateSubscription failed: %v", err)
	}

	ids, _ = s.MarkPaymentFailed(ctx, "sub_123", now)
	if len(ids) != 1 {
		t.Errorf("expected one marked user, got %v", ids)
	}
	ids, _ = s.MarkPaymentFailed(ctx, "sub_123", now.Add(time.Hour))
	if len(ids) != 0 {
		t.Errorf("expected first failure to win, got %v", ids)
	}

	ent, _ := s.GetEntitlement(ctx, "u1")
	if !ent.IsPremium || ent.PaymentFailedAt == nil || !ent.PaymentFailedAt.Equal(now) {
		t.Errorf("unexpected entitlement: %+v", ent)
	}

	// A new subscription clears the marker
	if _, err := s.ActivateSubscription(ctx, &entitlement.ActivationRequest{
		UserID: "u1", SubscriptionID: "sub_456", At: now,
	}); err != nil {
		t.Fatalf("ActivateSubscription failed: %v", err)
	}
	ent, _ = s.GetEntitlement(ctx, "u1")
	if ent.PaymentFailedAt != nil {
		t.Errorf("expected payment marker to be cleared")
	}
}

func TestStorage_ListPosts(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "Ann")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	fixtures := []posts.Post{
		{ID: "p1", UserID: "u1", Location: "Union Station", EncounterDate: "2025-02-01",
			Story: "red scarf on the train", IsActive: true, CreatedAt: base},
		{ID: "p2", UserID: "u1", Location: "union square cafe", EncounterDate: "2025-02-02",
			TheirDescription: "Blue coat", IsActive: true, CreatedAt: base.Add(time.Hour)},
		{ID: "p3", UserID: "u1", Location: "Union Park", EncounterDate: "2025-02-01",
			IsActive: false, CreatedAt: base.Add(2 * time.Hour)},
	}
	for i := range fixtures {
		if err := s.CreatePost(ctx, &fixtures[i]); err != nil {
			t.Fatalf("CreatePost failed: %v", err)
		}
	}
	if err := s.CreateResponse(ctx, &posts.Response{ID: "r1", PostID: "p1", UserID: "u1",
		Message: "hi", CreatedAt: base}); err != nil {
		t.Fatalf("CreateResponse failed: %v", err)
	}

	tests := []struct {
		name   string
		filter posts.Filter
		want   []string
	}{
		{"all active newest first", posts.Filter{}, []string{"p2", "p1"}},
		{"location case-insensitive", posts.Filter{Location: "UNION S"}, []string{"p2", "p1"}},
		{"exact date", posts.Filter{Date: "2025-02-01"}, []string{"p1"}},
		{"keywords in story", posts.Filter{Keywords: "SCARF"}, []string{"p1"}},
		{"keywords in description", posts.Filter{Keywords: "blue"}, []string{"p2"}},
		{"paging", posts.Filter{Page: 2, Limit: 1}, []string{"p1"}},
		{"past the end", posts.Filter{Page: 5, Limit: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListPosts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListPosts failed: %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("got %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("got %v, want %v", ids, tt.want)
				}
			}
		})
	}

	got, _ := s.ListPosts(ctx, posts.Filter{Date: "2025-02-01"})
	if got[0].AuthorName != "Ann" || got[0].ResponseCount != 1 {
		t.Errorf("listing fields not populated: %+v", got[0])
	}
}

func TestStorage_Responses(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "Ann")
	seedUser(t, s, "u2", "b@example.com", "Bob")

	err := s.CreateResponse(ctx, &posts.Response{ID: "r0", PostID: "missing", UserID: "u2"})
	if !errors.Is(err, posts.ErrPostNotFound) {
		t.Errorf("Expected ErrPostNotFound, got %v", err)
	}

	if err := s.CreatePost(ctx, &posts.Post{ID: "p1", UserID: "u1", IsActive: true}); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	base := time.Now().UTC()
	for i, id := range []string{"r1", "r2"} {
		if err := s.CreateResponse(ctx, &posts.Response{ID: id, PostID: "p1", UserID: "u2",
			Message: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("CreateResponse failed: %v", err)
		}
	}

	got, err := s.ListResponses(ctx, "p1")
	if err != nil {
		t.Fatalf("ListResponses failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" || got[0].ResponderName != "Bob" || got[0].ResponderEmail != "b@example.com" {
		t.Errorf("unexpected responses: %+v", got)
	}
}

func TestStorage_HotTierSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	failed := time.Now().UTC()

	err := s.SetEntitlement(ctx, &entitlement.Entitlement{
		UserID: "u1", IsPremium: true, SubscriptionID: "sub_1", PaymentFailedAt: &failed,
	})
	if err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}

	ent, err := s.GetEntitlement(ctx, "u1")
	if err != nil || !ent.IsPremium || ent.PaymentFailedAt == nil {
		t.Fatalf("unexpected snapshot: %+v err=%v", ent, err)
	}

	if err := s.DeleteEntitlement(ctx, "u1"); err != nil {
		t.Fatalf("DeleteEntitlement failed: %v", err)
	}
	if _, err := s.GetEntitlement(ctx, "u1"); !errors.Is(err, entitlement.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestStorage_Clear(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "a@example.com", "Ann")
	s.Clear()

	if _, err := s.GetUserByID(context.Background(), "u1"); !errors.Is(err, account.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound after Clear, got %v", err)
	}
}
