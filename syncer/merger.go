package syncer

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/nawafid/taqwim/cal_fields"
)

// UnifiedOptions selects which sources feed the merged view. The http
// layer defaults both to true.
type UnifiedOptions struct {
	IncludeLocal    bool
	IncludeExternal bool
}

// TimeRange echoes a requested window back on read responses.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// UnifiedView is the merged projection of local and provider events.
// IncludeLocal/IncludeExternal report the sources that actually
// contributed: a degraded fetch that produced nothing external flips
// IncludeExternal off. RequiresReauth distinguishes a dead credential
// from a plain provider outage.
type UnifiedView struct {
	Events          []cal_fields.MergedEvent `json:"events"`
	Total           int                      `json:"total"`
	TimeRange       TimeRange                `json:"time_range"`
	IncludeLocal    bool                     `json:"include_local"`
	IncludeExternal bool                     `json:"include_external"`
	Degraded        bool                     `json:"degraded"`
	RequiresReauth  bool                     `json:"requires_reauth"`
}

const localCalendarName = "Taqwim (local)"

// Unified builds the merged view over [from, to). Local events always
// make it in when requested; provider events come from the opted-in
// calendars and a transient provider failure degrades to local-only
// instead of erroring. Mirrored copies of local events and
// near-identical duplicates are dropped, local copy wins. Ties on
// start time keep insertion order.
func (s *Service) Unified(ctx context.Context, userID uint, from, to time.Time, opts UnifiedOptions) (*UnifiedView, error) {
	view := &UnifiedView{
		Events:          []cal_fields.MergedEvent{},
		TimeRange:       TimeRange{From: from.UTC(), To: to.UTC()},
		IncludeLocal:    opts.IncludeLocal,
		IncludeExternal: opts.IncludeExternal,
	}

	seen := make(map[string]bool)    // provider event ids of mirrored local events
	dedup := make(map[dedupKey]bool) // heuristic duplicate suppression
	if opts.IncludeLocal {
		local, err := cal_fields.EventsInRange(userID, from, to, s.Db)
		if err != nil {
			return nil, err
		}
		for _, ev := range local {
			if ev.Mirrored() {
				seen[ev.RefEventID] = true
			}
			dedup[dedupKeyOf(ev.Title, ev.StartTime, ev.CalendarID)] = true
			view.Events = append(view.Events, cal_fields.MergedEvent{
				Source: cal_fields.SourceLocal,
				Title:  ev.Title,
				Start:  ev.StartTime.UTC(),
				End:    ev.EndTime.UTC(),
				Calendar: cal_fields.CalendarDescriptor{
					ID:   ev.CalendarID,
					Name: localCalendarName,
				},
			})
		}
	}

	if opts.IncludeExternal {
		external, degraded, reauth, err := s.externalEvents(ctx, userID, from, to)
		if err != nil {
			return nil, err
		}
		view.Degraded = degraded
		view.RequiresReauth = reauth
		if degraded && len(external) == 0 {
			view.IncludeExternal = false
		}
		for _, item := range external {
			if item.event.Deleted() {
				continue
			}
			if seen[item.event.ID] {
				continue
			}
			if dedup[dedupKeyOf(item.event.Title, item.event.Start, item.calendar.ID)] {
				continue
			}
			view.Events = append(view.Events, cal_fields.MergedEvent{
				Source:   cal_fields.SourceExternal,
				Title:    item.event.Title,
				Start:    item.event.Start,
				End:      item.event.End,
				Calendar: item.calendar,
			})
		}
	}

	sort.SliceStable(view.Events, func(i, j int) bool {
		return view.Events[i].Start.Before(view.Events[j].Start)
	})
	view.Total = len(view.Events)
	return view, nil
}

// dedupKey identifies likely duplicates across sources. The calendar id
// keeps same-titled events at the same instant in different calendars
// apart.
type dedupKey struct {
	title    string
	start    int64
	calendar string
}

func dedupKeyOf(title string, start time.Time, calendarID string) dedupKey {
	return dedupKey{title: title, start: start.UTC().Unix(), calendar: calendarID}
}

type externalItem struct {
	event    cal_fields.ProviderEvent
	calendar cal_fields.CalendarDescriptor
}

// externalEvents lists the window from every opted-in calendar. A user
// with no link or no selections contributes nothing; transient provider
// trouble flips the degraded flag rather than failing the view, and a
// dead credential additionally raises the reauth flag.
func (s *Service) externalEvents(ctx context.Context, userID uint, from, to time.Time) ([]externalItem, bool, bool, error) {
	selections, err := cal_fields.SelectionsByUserID(userID, s.Db)
	if err != nil {
		return nil, false, false, err
	}
	if len(selections) == 0 {
		return nil, false, false, nil
	}

	acct, err := s.FreshToken(ctx, userID)
	if err != nil {
		if errors.Is(err, cal_fields.ErrNotLinked) {
			return nil, false, false, nil
		}
		if errors.Is(err, cal_fields.ErrReauthRequired) {
			return nil, true, true, nil
		}
		if cal_fields.IsTransient(err) {
			return nil, true, false, nil
		}
		return nil, false, false, err
	}

	var items []externalItem
	degraded := false
	for _, sel := range selections {
		set, err := s.Provider.ListEvents(ctx, acct.AccessToken, sel.CalendarID, from, to)
		if err != nil {
			if cal_fields.IsTransient(err) || errors.Is(err, cal_fields.ErrCursorInvalid) {
				s.Logger.WithError(err).WithField("calendar_id", sel.CalendarID).Warn("merged view degraded")
				degraded = true
				continue
			}
			return nil, false, false, err
		}
		descriptor := cal_fields.CalendarDescriptor{ID: sel.CalendarID, Name: sel.DisplayName, Color: sel.Color}
		for _, event := range set.Items {
			items = append(items, externalItem{event: event, calendar: descriptor})
		}
	}
	return items, degraded, false, nil
}
