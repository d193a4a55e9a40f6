package sending

import "errors"

// Sentinel errors for the send pipeline.
var (
	ErrNotFound       = errors.New("campaign or recipient not found")
	ErrForbidden      = errors.New("campaign belongs to another user")
	ErrNotSending     = errors.New("campaign is not in SENDING state")
	ErrNotResendable  = errors.New("recipient is not in FAILED state")
	ErrCampaignBusy   = errors.New("campaign has not finished sending")
	ErrAlreadyRunning = errors.New("a send run for this campaign is already in progress")

	// ErrRunIncomplete means a run stopped or could not record every outcome.
	// The campaign keeps its prior status; invoking the run again resumes it.
	ErrRunIncomplete = errors.New("send run incomplete")

	// ErrAuthExpired means the mail provider rejected the OAuth credentials.
	// Callers should ask the user to reconnect rather than retry.
	ErrAuthExpired = errors.New("mail provider authorization expired or invalid")
)
