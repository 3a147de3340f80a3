package posts

import "context"

// Store persists posts and their responses
type Store interface {
	CreatePost(ctx context.Context, post *Post) error

	// GetPost returns the post or ErrPostNotFound
	GetPost(ctx context.Context, postID string) (*Post, error)

	// ListPosts returns active posts matching the normalized filter, newest
	// first, with AuthorName and ResponseCount populated
	ListPosts(ctx context.Context, filter Filter) ([]*Post, error)

	// CreateResponse stores a response, or returns ErrPostNotFound
	CreateResponse(ctx context.Context, resp *Response) error

	// ListResponses returns the responses of a post newest first, with the
	// responder's name and email populated
	ListResponses(ctx context.Context, postID string) ([]*Response, error)
}
