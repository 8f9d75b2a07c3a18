package sending

import "errors"

// Sentinel errors shared by the delivery core and its stores.
var (
	ErrCampaignNotFound        = errors.New("campaign not found")
	ErrCredentialUnavailable   = errors.New("mailbox credential unavailable")
	ErrCredentialRefreshFailed = errors.New("mailbox credential refresh failed")
	ErrTransportSendFailed     = errors.New("transport send failed")

	// ErrSequenceExhausted and ErrDuplicateFollowUp are stop conditions for
	// a lead, not failures.
	ErrSequenceExhausted = errors.New("follow-up sequence exhausted")
	ErrDuplicateFollowUp = errors.New("follow-up already enqueued")

	ErrMessageNotFound = errors.New("message not found")
	ErrLeadNotFound    = errors.New("lead not found")
	ErrClaimLost       = errors.New("message already claimed")
)
