package posts

import "time"

const (
	// DefaultPageSize is the page size used when a filter does not set one
	DefaultPageSize = 10
	// MaxPageSize caps the page size of a listing
	MaxPageSize = 100
)

// Post is a missed-connection post
type Post struct {
	ID     string
	UserID string

	Location string
	// EncounterDate is a calendar date formatted as YYYY-MM-DD
	EncounterDate    string
	EncounterTime    string
	YourDescription  string
	TheirDescription string
	Story            string
	IsActive         bool
	CreatedAt        time.Time

	// Populated by listings
	AuthorName    string
	ResponseCount int
}

// Response is a message left on a post by another user
type Response struct {
	ID        string
	PostID    string
	UserID    string
	Message   string
	CreatedAt time.Time

	// Populated by listings
	ResponderName  string
	ResponderEmail string
}

// Filter selects active posts. Empty fields do not constrain the result.
type Filter struct {
	// Location matches as a case-insensitive substring
	Location string
	// Date matches the encounter date exactly (YYYY-MM-DD)
	Date string
	// Keywords matches as a case-insensitive substring of the story or
	// the description of the other person
	Keywords string

	Page  int
	Limit int
}

// Offset returns the number of rows to skip for the filter's page
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Normalize applies paging defaults and bounds
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f
}

// CreatePostRequest carries the fields of a new post
type CreatePostRequest struct {
	Location         string
	EncounterDate    string
	EncounterTime    string
	YourDescription  string
	TheirDescription string
	Story            string
}
