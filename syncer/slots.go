package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/nawafid/taqwim/cal_fields"
)

// Slot is one free interval a meeting of the requested length fits in.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SlotSuggestion is the free-slot response. Degraded means provider
// busy data was unavailable and only local events were considered;
// RequiresReauth marks the cause as a dead credential.
type SlotSuggestion struct {
	Slots          []Slot `json:"slots"`
	Degraded       bool   `json:"degraded"`
	RequiresReauth bool   `json:"requires_reauth"`
}

// FindSlots walks the window in fixed back-to-back steps of the given
// duration and keeps every step that overlaps no busy interval. A
// trailing partial step is discarded. Overlap is half-open, so a slot
// may start exactly when a busy interval ends. An explicit calendarIDs
// list overrides the stored selections for the provider free/busy
// query.
func (s *Service) FindSlots(ctx context.Context, userID uint, from, to time.Time, durationMinutes int, calendarIDs []string) (*SlotSuggestion, error) {
	if durationMinutes <= 0 {
		return nil, errors.New("duration must be positive")
	}
	if !to.After(from) {
		return nil, errors.New("window must not be empty")
	}

	busy, degraded, reauth, err := s.busyIntervals(ctx, userID, from, to, calendarIDs)
	if err != nil {
		return nil, err
	}

	suggestion := &SlotSuggestion{Degraded: degraded, RequiresReauth: reauth, Slots: []Slot{}}
	step := time.Duration(durationMinutes) * time.Minute
	for cursor := from; !cursor.Add(step).After(to); cursor = cursor.Add(step) {
		slotEnd := cursor.Add(step)
		if !overlapsAny(cursor, slotEnd, busy) {
			suggestion.Slots = append(suggestion.Slots, Slot{Start: cursor, End: slotEnd})
		}
	}
	return suggestion, nil
}

func overlapsAny(start, end time.Time, busy []cal_fields.BusyInterval) bool {
	for _, b := range busy {
		if end.After(b.Start) && start.Before(b.End) {
			return true
		}
	}
	return false
}

// busyIntervals collects busy time from local events and, when the user
// is linked, a provider free/busy query. The query covers calendarIDs
// when given, else the opted-in selections.
func (s *Service) busyIntervals(ctx context.Context, userID uint, from, to time.Time, calendarIDs []string) ([]cal_fields.BusyInterval, bool, bool, error) {
	local, err := cal_fields.EventsInRange(userID, from, to, s.Db)
	if err != nil {
		return nil, false, false, err
	}
	var busy []cal_fields.BusyInterval
	for _, ev := range local {
		busy = append(busy, cal_fields.BusyInterval{Start: ev.StartTime, End: ev.EndTime})
	}

	ids := calendarIDs
	if len(ids) == 0 {
		selections, err := cal_fields.SelectionsByUserID(userID, s.Db)
		if err != nil {
			return nil, false, false, err
		}
		for _, sel := range selections {
			ids = append(ids, sel.CalendarID)
		}
	}
	if len(ids) == 0 {
		return busy, false, false, nil
	}

	acct, err := s.FreshToken(ctx, userID)
	if err != nil {
		if errors.Is(err, cal_fields.ErrNotLinked) {
			return busy, false, false, nil
		}
		if errors.Is(err, cal_fields.ErrReauthRequired) {
			return busy, true, true, nil
		}
		if cal_fields.IsTransient(err) {
			return busy, true, false, nil
		}
		return nil, false, false, err
	}

	remote, err := s.Provider.FreeBusy(ctx, acct.AccessToken, ids, from, to)
	if err != nil {
		if cal_fields.IsTransient(err) {
			s.Logger.WithError(err).Warn("free/busy degraded to local events")
			return busy, true, false, nil
		}
		return nil, false, false, err
	}
	for _, intervals := range remote {
		busy = append(busy, intervals...)
	}
	return busy, false, false, nil
}
