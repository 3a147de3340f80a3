package api

import (
	"time"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/billing"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

// RegisterRequest is the body of POST /api/auth/register
type RegisterRequest struct {
	Email    string `json:"email"    validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name"     validate:"required,max=255"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// CreatePostRequest is the body of POST /api/posts
type CreatePostRequest struct {
	Location         string `json:"location"          validate:"required,max=255"`
	EncounterDate    string `json:"encounter_date"    validate:"required,datetime=2006-01-02"`
	EncounterTime    string `json:"encounter_time"    validate:"max=50"`
	YourDescription  string `json:"your_description"  validate:"max=2000"`
	TheirDescription string `json:"their_description" validate:"max=2000"`
	Story            string `json:"story"             validate:"max=10000"`
}

// ListPostsQuery holds the query parameters of GET /api/posts
type ListPostsQuery struct {
	Location string `json:"location" validate:"max=255"`
	Date     string `json:"date"     validate:"omitempty,datetime=2006-01-02"`
	Keywords string `json:"keywords" validate:"max=255"`
	Page     int    `json:"page"     validate:"gte=0"`
	Limit    int    `json:"limit"    validate:"gte=0"`
}

// RespondRequest is the body of POST /api/posts/{postID}/respond
type RespondRequest struct {
	Message string `json:"message" validate:"required,max=5000"`
}

// CheckoutRequest is the body of POST /api/subscriptions/create-checkout
type CheckoutRequest struct {
	PlanID string `json:"planId" validate:"required,max=64"`
}

// UserResponse is the public view of an account
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	IsPremium bool   `json:"is_premium"`
}

// SessionResponse is returned by register and login
type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// PostResponse is the public view of a post
type PostResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Location         string    `json:"location"`
	EncounterDate    string    `json:"encounter_date"`
	EncounterTime    string    `json:"encounter_time,omitempty"`
	YourDescription  string    `json:"your_description,omitempty"`
	TheirDescription string    `json:"their_description,omitempty"`
	Story            string    `json:"story,omitempty"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	AuthorName       string    `json:"author_name,omitempty"`
	ResponseCount    int       `json:"response_count"`
}

// PostResponseView is the public view of a response left on a post
type PostResponseView struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// PlansResponse lists the plan catalog
type PlansResponse struct {
	Product     string         `json:"product"`
	Description string         `json:"description"`
	Plans       []billing.Plan `json:"plans"`
}

// StatusResponse is the caller's subscription status
type StatusResponse struct {
	IsPremium      bool   `json:"is_premium"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	PaymentIssue   bool   `json:"payment_issue"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func toUserResponse(u *account.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, IsPremium: u.IsPremium}
}

func toPostResponse(p *posts.Post) PostResponse {
	return PostResponse{
		ID:               p.ID,
		UserID:           p.UserID,
		Location:         p.Location,
		EncounterDate:    p.EncounterDate,
		EncounterTime:    p.EncounterTime,
		YourDescription:  p.YourDescription,
		TheirDescription: p.TheirDescription,
		Story:            p.Story,
		IsActive:         p.IsActive,
		CreatedAt:        p.CreatedAt,
		AuthorName:       p.AuthorName,
		ResponseCount:    p.ResponseCount,
	}
}

func toResponseView(r *posts.Response) PostResponseView {
	return PostResponseView{
		ID:        r.ID,
		PostID:    r.PostID,
		UserID:    r.UserID,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
		Name:      r.ResponderName,
		Email:     r.ResponderEmail,
	}
}
