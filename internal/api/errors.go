package api

import (
	"errors"
	"net/http"

	"github.com/sendquill/sendquill/internal/pkg/httputil"
	"github.com/sendquill/sendquill/internal/service/campaign"
	"github.com/sendquill/sendquill/internal/service/contact"
	"github.com/sendquill/sendquill/internal/service/sending"
	"github.com/sendquill/sendquill/internal/service/template"
)

// CodeReauthRequired tells the UI to send the user through Google consent again.
const CodeReauthRequired = "reauth_required"

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusFor maps service sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sending.ErrAuthExpired):
		return http.StatusUnauthorized
	case isAny(err, campaign.ErrNotFound, contact.ErrNotFound, template.ErrNotFound, sending.ErrNotFound):
		return http.StatusNotFound
	case isAny(err, campaign.ErrForbidden, contact.ErrForbidden, template.ErrForbidden, sending.ErrForbidden):
		return http.StatusForbidden
	case isAny(err,
		campaign.ErrInvalidTransition, campaign.ErrNotEditable,
		sending.ErrNotSending, sending.ErrNotResendable, sending.ErrCampaignBusy, sending.ErrAlreadyRunning):
		return http.StatusConflict
	case campaign.IsInvalidInput(err),
		isAny(err, campaign.ErrMissingList, contact.ErrInvalidInput, template.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, sending.ErrRunIncomplete):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends the mapped status. 5xx bodies never carry the internal
// error text.
func writeError(w http.ResponseWriter, err error) {
	writeErrorWith(w, err, nil)
}

// writeErrorWith is writeError with a details payload, used to return a
// partial send result alongside the error.
func writeErrorWith(w http.ResponseWriter, err error, details any) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		httputil.InternalError(w, err)
	case http.StatusUnauthorized:
		httputil.ErrorCode(w, status, CodeReauthRequired, err.Error(), details)
	default:
		if details != nil {
			httputil.ErrorCode(w, status, "", err.Error(), details)
			return
		}
		httputil.Error(w, status, err.Error())
	}
}
