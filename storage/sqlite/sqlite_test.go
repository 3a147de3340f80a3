package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Storage, id, email string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &account.User{
		ID: id, Email: email, Name: "User " + id, PasswordHash: "hash",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	seedUser(t, s, "u1", "a@example.com")
	u, err := s.GetUserByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
}

func TestCreateUser(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com")

	err := s.CreateUser(ctx, &account.User{ID: "u2", Email: "a@example.com", PasswordHash: "x", Name: "x"})
	assert.ErrorIs(t, err, account.ErrEmailTaken)

	u, err := s.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.False(t, u.IsPremium)
	assert.Empty(t, u.SubscriptionID)
	assert.True(t, u.CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, account.ErrUserNotFound)
}

func TestEntitlementLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com")
	now := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	req := &entitlement.ActivationRequest{UserID: "u1", SubscriptionID: "sub_123", At: now}
	changed, err := s.ActivateSubscription(ctx, req)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.ActivateSubscription(ctx, req)
	require.NoError(t, err)
	assert.False(t, changed, "replay must not write")

	ids, err := s.MarkPaymentFailed(ctx, "sub_123", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	ids, err = s.MarkPaymentFailed(ctx, "sub_123", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids, "first failure wins")

	ent, err := s.GetEntitlement(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ent.HasPaymentIssue())
	assert.True(t, ent.PaymentFailedAt.Equal(now.Add(time.Hour)))

	ids, err = s.DeactivateSubscription(ctx, "sub_123", now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	ent, err = s.GetEntitlement(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ent.IsPremium)
	assert.Equal(t, "sub_123", ent.SubscriptionID)

	changed, err = s.ActivateSubscription(ctx, req)
	require.NoError(t, err)
	assert.False(t, changed, "stale replay after deletion must not reactivate")

	// A new subscription replaces the retained one and clears the failure marker
	changed, err = s.ActivateSubscription(ctx, &entitlement.ActivationRequest{
		UserID: "u1", SubscriptionID: "sub_456", At: now.Add(4 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, changed)

	ids, err = s.DeactivateSubscription(ctx, "sub_123", now.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids, "old deletion must not revoke the new subscription")

	ent, err = s.GetEntitlement(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ent.IsPremium)
	assert.Nil(t, ent.PaymentFailedAt)
}

func TestEntitlementErrors(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetEntitlement(ctx, "ghost")
	assert.ErrorIs(t, err, entitlement.ErrUserNotFound)

	_, err = s.ActivateSubscription(ctx, &entitlement.ActivationRequest{UserID: "ghost", SubscriptionID: "sub_1"})
	assert.ErrorIs(t, err, entitlement.ErrUserNotFound)

	_, err = s.ActivateSubscription(ctx, &entitlement.ActivationRequest{UserID: "ghost"})
	assert.ErrorIs(t, err, entitlement.ErrInvalidActivation)

	ids, err := s.DeactivateSubscription(ctx, "sub_unknown", time.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConcurrentActivation(t *testing.T) {
	s := newTestStorage(t)
	seedUser(t, s, "u1", "a@example.com")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := s.ActivateSubscription(context.Background(), &entitlement.ActivationRequest{
				UserID: "u1", SubscriptionID: "sub_123", At: time.Now()})
			if err == nil && changed {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)
}

func TestPosts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com")
	seedUser(t, s, "u2", "b@example.com")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []posts.Post{
		{ID: "p1", UserID: "u1", Location: "Union Station", EncounterDate: "2025-02-01", Story: "Red scarf 50% off", IsActive: true},
		{ID: "p2", UserID: "u1", Location: "Harbourfront", EncounterDate: "2025-02-02", TheirDescription: "blue coat", IsActive: true},
		{ID: "p3", UserID: "u2", Location: "Union Station", EncounterDate: "2025-02-03", IsActive: false},
	} {
		p := p
		p.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.CreatePost(ctx, &p))
	}

	require.NoError(t, s.CreateResponse(ctx, &posts.Response{ID: "r1", PostID: "p1", UserID: "u2", Message: "hi", CreatedAt: base}))
	err := s.CreateResponse(ctx, &posts.Response{ID: "r2", PostID: "missing", UserID: "u2", Message: "hi", CreatedAt: base})
	assert.ErrorIs(t, err, posts.ErrPostNotFound)

	tests := []struct {
		name   string
		filter posts.Filter
		want   []string
	}{
		{"all active newest first", posts.Filter{}, []string{"p2", "p1"}},
		{"location case-insensitive", posts.Filter{Location: "UNION"}, []string{"p1"}},
		{"exact date", posts.Filter{Date: "2025-02-02"}, []string{"p2"}},
		{"keywords in story", posts.Filter{Keywords: "scarf"}, []string{"p1"}},
		{"keywords in description", posts.Filter{Keywords: "Blue"}, []string{"p2"}},
		{"wildcards are literal", posts.Filter{Keywords: "50%"}, []string{"p1"}},
		{"underscore is literal", posts.Filter{Keywords: "_"}, []string{}},
		{"pagination", posts.Filter{Page: 2, Limit: 1}, []string{"p1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListPosts(ctx, tt.filter)
			require.NoError(t, err)
			got := make([]string, 0, len(list))
			for _, p := range list {
				got = append(got, p.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	p, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "User u1", p.AuthorName)
	assert.Equal(t, 1, p.ResponseCount)
	assert.Equal(t, "2025-02-01", p.EncounterDate)

	_, err = s.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, posts.ErrPostNotFound)

	responses, err := s.ListResponses(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "b@example.com", responses[0].ResponderEmail)
	assert.Equal(t, "User u2", responses[0].ResponderName)
}
