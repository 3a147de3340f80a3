package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// Config holds post directory configuration
type Config struct {
	// Store persists posts (required)
	Store Store

	// Premium answers premium checks for response listings (required)
	Premium entitlement.PremiumChecker

	// Logger is used for structured logging (default: NoopLogger)
	Logger entitlement.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// Service is the post directory
type Service struct {
	store   Store
	premium entitlement.PremiumChecker
	logger  entitlement.Logger
	now     func() time.Time
}

// NewService creates a new post directory
func NewService(config *Config) (*Service, error) {
	if config == nil || config.Store == nil {
		return nil, errors.New("post store is required")
	}
	if config.Premium == nil {
		return nil, errors.New("premium checker is required")
	}

	s := &Service{
		store:   config.Store,
		premium: config.Premium,
		logger:  config.Logger,
		now:     config.Now,
	}
	if s.logger == nil {
		s.logger = &entitlement.NoopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// CreatePost publishes a post authored by userID
func (s *Service) CreatePost(ctx context.Context, userID string, req CreatePostRequest) (*Post, error) {
	if userID == "" || strings.TrimSpace(req.Location) == "" || req.EncounterDate == "" {
		return nil, ErrInvalidInput
	}

	post := &Post{
		ID:               uuid.NewString(),
		UserID:           userID,
		Location:         strings.TrimSpace(req.Location),
		EncounterDate:    req.EncounterDate,
		EncounterTime:    req.EncounterTime,
		YourDescription:  req.YourDescription,
		TheirDescription: req.TheirDescription,
		Story:            req.Story,
		IsActive:         true,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return post, nil
}

// List returns a page of active posts matching filter
func (s *Service) List(ctx context.Context, filter Filter) ([]*Post, error) {
	result, err := s.store.ListPosts(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return result, nil
}

// Respond leaves a message from userID on a post
func (s *Service) Respond(ctx context.Context, userID, postID, message string) (*Response, error) {
	if userID == "" || strings.TrimSpace(message) == "" {
		return nil, ErrInvalidInput
	}

	resp := &Response{
		ID:        uuid.NewString(),
		PostID:    postID,
		UserID:    userID,
		Message:   strings.TrimSpace(message),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateResponse(ctx, resp); err != nil {
		if errors.Is(err, ErrPostNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create response: %w", err)
	}
	return resp, nil
}

// ListResponses returns the responses of a post. Only the post's author and
// premium users may read them.
func (s *Service) ListResponses(ctx context.Context, userID, postID string) ([]*Response, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	if post.UserID != userID {
		premium, err := s.premium.IsPremium(ctx, userID)
		if err != nil && !errors.Is(err, entitlement.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to check entitlement: %w", err)
		}
		if !premium {
			s.logger.Debug("response listing denied",
				entitlement.Field{Key: "user_id", Value: userID},
				entitlement.Field{Key: "post_id", Value: postID},
			)
			return nil, ErrPremiumRequired
		}
	}

	return s.store.ListResponses(ctx, postID)
}
