package syncer

import (
	"context"
	"errors"

	"github.com/nawafid/taqwim/cal_fields"
)

// Write-through propagation. The local database commits first and is
// the source of truth; mirroring onto the provider's managed calendar
// is best effort. A failed mirror never rolls back the local write.

// CreateEvent persists a local event and mirrors it out.
func (s *Service) CreateEvent(ctx context.Context, event *cal_fields.Event) error {
	if err := s.Db.Create(event).Error; err != nil {
		return err
	}
	s.mirrorUpsert(ctx, event)
	return nil
}

// UpdateEvent applies the caller's changes and refreshes the mirror. An
// event that never got mirrored (link down at create time) gets its
// first provider copy here.
func (s *Service) UpdateEvent(ctx context.Context, event *cal_fields.Event) error {
	if err := s.Db.Save(event).Error; err != nil {
		return err
	}
	s.mirrorUpsert(ctx, event)
	return nil
}

// DeleteEvent removes the local event and its mirrored copy.
func (s *Service) DeleteEvent(ctx context.Context, event *cal_fields.Event) error {
	if err := s.Db.Unscoped().Delete(event).Error; err != nil {
		return err
	}
	if !event.Mirrored() {
		return nil
	}
	acct, err := s.FreshToken(ctx, event.UserID)
	if err != nil {
		s.logMirrorFailure(event, err)
		return nil
	}
	if err := s.Provider.DeleteEvent(ctx, acct.AccessToken, event.RefCalendarID, event.RefEventID); err != nil {
		s.logMirrorFailure(event, err)
	}
	return nil
}

// mirrorUpsert pushes the event onto the managed calendar, inserting or
// patching depending on whether a provider ref exists already.
func (s *Service) mirrorUpsert(ctx context.Context, event *cal_fields.Event) {
	acct, err := s.FreshToken(ctx, event.UserID)
	if err != nil {
		s.logMirrorFailure(event, err)
		return
	}
	calendarID, err := s.managedCalendar(ctx, acct)
	if err != nil {
		s.logMirrorFailure(event, err)
		return
	}

	var remote cal_fields.ProviderEvent
	if event.Mirrored() {
		remote, err = s.Provider.PatchEvent(ctx, acct.AccessToken, event.RefCalendarID, event.RefEventID, *event)
	} else {
		remote, err = s.Provider.InsertEvent(ctx, acct.AccessToken, calendarID, *event)
	}
	if err != nil {
		s.logMirrorFailure(event, err)
		return
	}

	event.RefCalendarID = remote.CalendarID
	event.RefEventID = remote.ID
	event.RefEtag = remote.Etag
	if err := s.Db.Model(event).Updates(map[string]interface{}{
		"ref_calendar_id": event.RefCalendarID,
		"ref_event_id":    event.RefEventID,
		"ref_etag":        event.RefEtag,
	}).Error; err != nil {
		s.Logger.WithError(err).WithField("event_id", event.ID).Error("persisting provider ref failed")
	}
}

// managedCalendar resolves the id of the provider calendar that holds
// mirrored events, creating it lazily when link time deferred it.
func (s *Service) managedCalendar(ctx context.Context, acct *cal_fields.CalendarAccount) (string, error) {
	if acct.ManagedCalendarID != "" {
		return acct.ManagedCalendarID, nil
	}
	id, err := s.Provider.FindOrCreateCalendar(ctx, acct.AccessToken, s.TaqwimConfig.ManagedCalendarName)
	if err != nil {
		return "", err
	}
	acct.ManagedCalendarID = id
	if err := cal_fields.SaveAccount(acct, s.Db); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) logMirrorFailure(event *cal_fields.Event, err error) {
	entry := s.Logger.WithError(err).WithFields(map[string]interface{}{
		"event_id": event.ID,
		"user_id":  event.UserID,
	})
	switch {
	case errors.Is(err, cal_fields.ErrNotLinked):
		entry.Debug("event kept local, no calendar link")
	case errors.Is(err, cal_fields.ErrReauthRequired):
		entry.Warn("mirror skipped, relink required")
	case cal_fields.IsTransient(err):
		entry.Warn("mirror skipped, provider unavailable")
	default:
		entry.Error("mirror failed")
	}
}
