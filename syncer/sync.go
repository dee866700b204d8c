package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nawafid/taqwim/cal_fields"
)

// CalendarUpdate is what one sync run yielded for a calendar.
type CalendarUpdate struct {
	CalendarID string                     `json:"calendar_id"`
	Items      []cal_fields.ProviderEvent `json:"items"`
	FullResync bool                       `json:"full_resync"`
}

// SyncCalendar advances one (user, calendar) pair. Incremental when a
// cursor exists, a bounded full-window listing otherwise. An
// invalidated cursor triggers exactly one internal full resync; the
// caller never sees the cursor error. The new cursor persists only
// after the whole change set processed, so a crash mid-run replays
// changes instead of losing them.
func (s *Service) SyncCalendar(ctx context.Context, userID uint, calendarID string) (*CalendarUpdate, error) {
	key := fmt.Sprintf("%d:%s", userID, calendarID)
	s.syncLocks.Lock(key)
	defer s.syncLocks.Unlock(key)

	acct, err := s.FreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	state, err := cal_fields.SyncStateFor(userID, calendarID, s.Db)
	if err != nil {
		return nil, err
	}

	update := &CalendarUpdate{CalendarID: calendarID}
	var set cal_fields.ChangeSet
	if state.SyncToken == "" {
		update.FullResync = true
		set, err = s.fullListing(ctx, acct.AccessToken, calendarID)
	} else {
		set, err = s.Provider.Changes(ctx, acct.AccessToken, calendarID, state.SyncToken)
		if errors.Is(err, cal_fields.ErrCursorInvalid) {
			s.Logger.WithField("calendar_id", calendarID).Info("cursor invalidated, full resync")
			update.FullResync = true
			set, err = s.fullListing(ctx, acct.AccessToken, calendarID)
		}
	}
	if err != nil {
		if errors.Is(err, cal_fields.ErrReauthRequired) {
			s.notifyReauth(userID)
		}
		return nil, err
	}

	update.Items = set.Items
	state.SyncToken = set.NextSyncToken
	if err := state.Save(s.Db); err != nil {
		return nil, err
	}
	return update, nil
}

func (s *Service) fullListing(ctx context.Context, accessToken, calendarID string) (cal_fields.ChangeSet, error) {
	from, to := s.syncWindow(time.Now())
	return s.Provider.ListEvents(ctx, accessToken, calendarID, from, to)
}

// SyncAll runs SyncCalendar over every opted-in calendar. One failing
// calendar doesn't block the rest; the first error is reported after
// all pairs had their turn.
func (s *Service) SyncAll(ctx context.Context, userID uint) ([]CalendarUpdate, error) {
	selections, err := cal_fields.SelectionsByUserID(userID, s.Db)
	if err != nil {
		return nil, err
	}
	var updates []CalendarUpdate
	var firstErr error
	for _, sel := range selections {
		update, err := s.SyncCalendar(ctx, userID, sel.CalendarID)
		if err != nil {
			s.Logger.WithError(err).WithField("calendar_id", sel.CalendarID).Warn("calendar sync failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		updates = append(updates, *update)
	}
	return updates, firstErr
}
