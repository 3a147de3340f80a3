package posts

import "errors"

var (
	// ErrPostNotFound is returned when the post does not exist
	ErrPostNotFound = errors.New("post not found")

	// ErrPremiumRequired is returned when a non-owner without premium lists responses
	ErrPremiumRequired = errors.New("premium subscription required")

	// ErrInvalidInput is returned when required fields are missing
	ErrInvalidInput = errors.New("invalid input")
)
