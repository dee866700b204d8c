package gcal

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/nawafid/taqwim/cal_fields"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, cal_fields.ErrReauthRequired},
		{"forbidden scope", &googleapi.Error{Code: http.StatusForbidden}, cal_fields.ErrInsufficientScope},
		{"gone cursor", &googleapi.Error{Code: http.StatusGone}, cal_fields.ErrCursorInvalid},
		{"invalid grant", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, cal_fields.ErrReauthRequired},
		{"bad code", &oauth2.RetrieveError{ErrorCode: "invalid_request"}, cal_fields.ErrAuthExchange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("mapError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapErrorTransient(t *testing.T) {
	transients := []error{
		&googleapi.Error{Code: http.StatusTooManyRequests},
		&googleapi.Error{Code: http.StatusInternalServerError},
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		&googleapi.Error{
			Code:   http.StatusForbidden,
			Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}},
		},
	}
	for _, err := range transients {
		if !cal_fields.IsTransient(mapError(err)) {
			t.Errorf("%v not mapped as transient", err)
		}
	}
}

func TestMapErrorNil(t *testing.T) {
	if mapError(nil) != nil {
		t.Error("nil must pass through")
	}
}

func TestParseEventTime(t *testing.T) {
	timed := &calendar.EventDateTime{DateTime: "2026-09-01T10:00:00+02:00"}
	got := parseEventTime(timed)
	want := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("timed = %v, want %v", got, want)
	}

	allDay := &calendar.EventDateTime{Date: "2026-09-01"}
	got = parseEventTime(allDay)
	want = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("all-day = %v, want %v", got, want)
	}

	if !parseEventTime(nil).IsZero() {
		t.Error("nil must yield zero time")
	}
}

func TestFromAPIEventCancelled(t *testing.T) {
	item := &calendar.Event{Id: "e1", Status: cal_fields.StatusCancelled}
	got := fromAPIEvent("cal-1", item)
	if !got.Deleted() {
		t.Error("cancelled entry not a tombstone")
	}
	if got.ID != "e1" || got.CalendarID != "cal-1" {
		t.Errorf("identity lost: %+v", got)
	}
}
