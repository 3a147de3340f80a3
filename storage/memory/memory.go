// Package memory provides an in-memory implementation of the account, post
// and entitlement stores. It is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

type userRow struct {
	user            account.User
	paymentFailedAt *time.Time
	updatedAt       time.Time
}

func (r *userRow) entitlement() *entitlement.Entitlement {
	ent := &entitlement.Entitlement{
		UserID:         r.user.ID,
		IsPremium:      r.user.IsPremium,
		SubscriptionID: r.user.SubscriptionID,
		UpdatedAt:      r.updatedAt,
	}
	if r.paymentFailedAt != nil {
		t := *r.paymentFailedAt
		ent.PaymentFailedAt = &t
	}
	return ent
}

// Storage implements account.Store, posts.Store and entitlement.Storage
// using in-memory maps. Every mutation runs under a single mutex, which
// gives the entitlement updates the same compare-and-set semantics as the
// SQL adapters.
type Storage struct {
	mu        sync.RWMutex
	users     map[string]*userRow
	emails    map[string]string
	posts     map[string]*posts.Post
	responses map[string][]*posts.Response
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		users:     make(map[string]*userRow),
		emails:    make(map[string]string),
		posts:     make(map[string]*posts.Post),
		responses: make(map[string][]*posts.Response),
	}
}

// --- account.Store ---

// CreateUser implements account.Store
func (s *Storage) CreateUser(_ context.Context, user *account.User) error {
	if user == nil || user.ID == "" || user.Email == "" {
		return fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emails[user.Email]; taken {
		return account.ErrEmailTaken
	}
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}

	row := &userRow{user: *user, updatedAt: user.CreatedAt}
	// Entitlement columns always start at their defaults
	row.user.IsPremium = false
	row.user.SubscriptionID = ""
	s.users[user.ID] = row
	s.emails[user.Email] = user.ID
	return nil
}

// GetUserByEmail implements account.Store
func (s *Storage) GetUserByEmail(_ context.Context, email string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, account.ErrUserNotFound
	}
	u := s.users[id].user
	return &u, nil
}

// GetUserByID implements account.Store
func (s *Storage) GetUserByID(_ context.Context, userID string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.users[userID]
	if !ok {
		return nil, account.ErrUserNotFound
	}
	u := row.user
	return &u, nil
}

// --- entitlement.Storage ---

// GetEntitlement implements entitlement.Storage
func (s *Storage) GetEntitlement(_ context.Context, userID string) (*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.users[userID]
	if !ok {
		return nil, entitlement.ErrUserNotFound
	}
	return row.entitlement(), nil
}

// ActivateSubscription implements entitlement.Storage
func (s *Storage) ActivateSubscription(_ context.Context, req *entitlement.ActivationRequest) (bool, error) {
	if req == nil || req.UserID == "" || req.SubscriptionID == "" {
		return false, entitlement.ErrInvalidActivation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.users[req.UserID]
	if !ok {
		return false, entitlement.ErrUserNotFound
	}
	if row.user.SubscriptionID == req.SubscriptionID {
		return false, nil
	}

	row.user.IsPremium = true
	row.user.SubscriptionID = req.SubscriptionID
	row.paymentFailedAt = nil
	row.updatedAt = req.At
	return true, nil
}

// DeactivateSubscription implements entitlement.Storage
func (s *Storage) DeactivateSubscription(_ context.Context, subscriptionID string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, row := range s.users {
		if row.user.SubscriptionID != subscriptionID || !row.user.IsPremium {
			continue
		}
		row.user.IsPremium = false
		row.updatedAt = at
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// MarkPaymentFailed implements entitlement.Storage
func (s *Storage) MarkPaymentFailed(_ context.Context, subscriptionID string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, row := range s.users {
		if row.user.SubscriptionID != subscriptionID || !row.user.IsPremium || row.paymentFailedAt != nil {
			continue
		}
		t := at
		row.paymentFailedAt = &t
		row.updatedAt = at
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SetEntitlement overwrites the entitlement snapshot of a user, creating a
// bare row when none exists. Used when the store serves as a hot tier.
func (s *Storage) SetEntitlement(_ context.Context, ent *entitlement.Entitlement) error {
	if ent == nil || ent.UserID == "" {
		return fmt.Errorf("invalid entitlement")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.users[ent.UserID]
	if !ok {
		row = &userRow{user: account.User{ID: ent.UserID}}
		s.users[ent.UserID] = row
	}
	row.user.IsPremium = ent.IsPremium
	row.user.SubscriptionID = ent.SubscriptionID
	row.paymentFailedAt = nil
	if ent.PaymentFailedAt != nil {
		t := *ent.PaymentFailedAt
		row.paymentFailedAt = &t
	}
	row.updatedAt = ent.UpdatedAt
	return nil
}

// DeleteEntitlement drops a user's row. Used when the store serves as a hot tier.
func (s *Storage) DeleteEntitlement(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.users[userID]; ok {
		delete(s.emails, row.user.Email)
		delete(s.users, userID)
	}
	return nil
}

// --- posts.Store ---

// CreatePost implements posts.Store
func (s *Storage) CreatePost(_ context.Context, post *posts.Post) error {
	if post == nil || post.ID == "" {
		return fmt.Errorf("invalid post")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := *post
	s.posts[post.ID] = &p
	return nil
}

// GetPost implements posts.Store
func (s *Storage) GetPost(_ context.Context, postID string) (*posts.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[postID]
	if !ok {
		return nil, posts.ErrPostNotFound
	}
	return s.decorate(p), nil
}

// ListPosts implements posts.Store
func (s *Storage) ListPosts(_ context.Context, filter posts.Filter) ([]*posts.Post, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	location := strings.ToLower(filter.Location)
	keywords := strings.ToLower(filter.Keywords)

	matched := make([]*posts.Post, 0)
	for _, p := range s.posts {
		if !p.IsActive {
			continue
		}
		if location != "" && !strings.Contains(strings.ToLower(p.Location), location) {
			continue
		}
		if filter.Date != "" && p.EncounterDate != filter.Date {
			continue
		}
		if keywords != "" &&
			!strings.Contains(strings.ToLower(p.Story), keywords) &&
			!strings.Contains(strings.ToLower(p.TheirDescription), keywords) {
			continue
		}
		if _, ok := s.users[p.UserID]; !ok {
			continue
		}
		matched = append(matched, s.decorate(p))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	offset := filter.Offset()
	if offset >= len(matched) {
		return []*posts.Post{}, nil
	}
	end := offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// decorate returns a copy of p with listing fields populated. Caller holds s.mu.
func (s *Storage) decorate(p *posts.Post) *posts.Post {
	cp := *p
	if row, ok := s.users[p.UserID]; ok {
		cp.AuthorName = row.user.Name
	}
	cp.ResponseCount = len(s.responses[p.ID])
	return &cp
}

// CreateResponse implements posts.Store
func (s *Storage) CreateResponse(_ context.Context, resp *posts.Response) error {
	if resp == nil || resp.ID == "" {
		return fmt.Errorf("invalid response")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[resp.PostID]; !ok {
		return posts.ErrPostNotFound
	}
	r := *resp
	s.responses[resp.PostID] = append(s.responses[resp.PostID], &r)
	return nil
}

// ListResponses implements posts.Store
func (s *Storage) ListResponses(_ context.Context, postID string) ([]*posts.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.responses[postID]
	result := make([]*posts.Response, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		r := *stored[i]
		if row, ok := s.users[r.UserID]; ok {
			r.ResponderName = row.user.Name
			r.ResponderEmail = row.user.Email
		}
		result = append(result, &r)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*userRow)
	s.emails = make(map[string]string)
	s.posts = make(map[string]*posts.Post)
	s.responses = make(map[string][]*posts.Response)
}
