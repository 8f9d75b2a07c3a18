package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrForbidden         = errors.New("campaign belongs to another user")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoLeads           = errors.New("campaign has no active leads")
	ErrIncomplete        = errors.New("campaign is missing required fields")
)
