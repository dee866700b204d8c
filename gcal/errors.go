package gcal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/nawafid/taqwim/cal_fields"
)

// mapError translates google api failures into taqwim's error taxonomy.
// Anything we cannot classify is treated as transient so the caller's
// read path can degrade instead of failing hard.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", cal_fields.ErrReauthRequired, gerr.Message)
		case http.StatusForbidden:
			if isRateLimited(gerr) {
				return &cal_fields.TransientError{Status: gerr.Code, Err: err}
			}
			return fmt.Errorf("%w: %v", cal_fields.ErrInsufficientScope, gerr.Message)
		case http.StatusGone:
			return cal_fields.ErrCursorInvalid
		case http.StatusTooManyRequests:
			return &cal_fields.TransientError{Status: gerr.Code, Err: err}
		}
		if gerr.Code >= http.StatusInternalServerError {
			return &cal_fields.TransientError{Status: gerr.Code, Err: err}
		}
		return err
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		// invalid_grant means the refresh token was revoked or expired.
		if rerr.ErrorCode == "invalid_grant" {
			return fmt.Errorf("%w: %s", cal_fields.ErrReauthRequired, rerr.ErrorCode)
		}
		if rerr.Response != nil && rerr.Response.StatusCode >= http.StatusInternalServerError {
			return &cal_fields.TransientError{Status: rerr.Response.StatusCode, Err: err}
		}
		return fmt.Errorf("%w: %s", cal_fields.ErrAuthExchange, rerr.ErrorCode)
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return &cal_fields.TransientError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &cal_fields.TransientError{Err: err}
	}
	return err
}

// Google signals per-user rate limiting with 403 plus one of these
// reasons instead of 429.
func isRateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}
