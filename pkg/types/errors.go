package types

import "errors"

// Domain errors for type validation
var (
	ErrUnknownItemType = errors.New("unknown item type")
	ErrInvalidParent   = errors.New("invalid parent reference")

	// Search result errors
	ErrInvalidItemID         = errors.New("invalid item ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be non-negative")
	ErrMissingURL            = errors.New("canonical url is required")
	ErrEmptyContent          = errors.New("content cannot be empty")
)
