package cal_fields

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Google Calendar scopes we care about. A link is usable when the grant
// covers both reading and writing events: either the full calendar scope,
// or the readonly + events pair.
const (
	ScopeCalendar         = "https://www.googleapis.com/auth/calendar"
	ScopeCalendarReadonly = "https://www.googleapis.com/auth/calendar.readonly"
	ScopeCalendarEvents   = "https://www.googleapis.com/auth/calendar.events"
)

// CalendarAccount is the delegated-access credential for a user's Google
// account. One row per user. An account with no refresh token is considered
// unestablished and every mirroring path treats the user as unlinked.
type CalendarAccount struct {
	gorm.Model
	UserID            uint      `json:"user_id" gorm:"uniqueIndex:idx_account_user"`
	AccessToken       string    `json:"-"`
	RefreshToken      string    `json:"-"`
	Expiry            time.Time `json:"expiry"`
	Scope             string    `json:"scope"`
	ManagedCalendarID string    `json:"managed_calendar_id"`
}

// Established reports whether the link holds a usable refresh token.
func (a *CalendarAccount) Established() bool {
	return a != nil && a.RefreshToken != ""
}

// HasCalendarReadWrite checks the granted scope set against what mirroring
// needs. Google returns scopes space-separated.
func (a *CalendarAccount) HasCalendarReadWrite() bool {
	granted := map[string]bool{}
	for _, s := range strings.Fields(a.Scope) {
		granted[s] = true
	}
	if granted[ScopeCalendar] {
		return true
	}
	return granted[ScopeCalendarReadonly] && granted[ScopeCalendarEvents]
}

// AccountByUserID fetches the user's calendar account, or ErrNotLinked.
func AccountByUserID(userID uint, db *gorm.DB) (*CalendarAccount, error) {
	var acct CalendarAccount
	if err := db.Where("user_id = ?", userID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotLinked
		}
		return nil, err
	}
	return &acct, nil
}

// SaveAccount upserts the credential row. Plain overwrite on conflict:
// refreshed tokens are interchangeable, last writer wins per user.
func SaveAccount(acct *CalendarAccount, db *gorm.DB) error {
	if acct.ID != 0 {
		return db.Save(acct).Error
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(acct).Error
}

// CalendarSelection is one provider calendar the user opted into for the
// merged view and free/busy lookups. No rows means provider sync is inert.
type CalendarSelection struct {
	gorm.Model
	UserID      uint   `json:"user_id" gorm:"uniqueIndex:idx_selection_user_cal"`
	CalendarID  string `json:"calendar_id" gorm:"uniqueIndex:idx_selection_user_cal"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

// SelectionsByUserID lists the user's opted-in provider calendars.
func SelectionsByUserID(userID uint, db *gorm.DB) ([]CalendarSelection, error) {
	var sels []CalendarSelection
	err := db.Where("user_id = ?", userID).Find(&sels).Error
	return sels, err
}

// ReplaceSelections swaps the user's selection set in one transaction.
// Selections only ever change by explicit user action.
func ReplaceSelections(userID uint, sels []CalendarSelection, db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("user_id = ?", userID).Delete(&CalendarSelection{}).Error; err != nil {
			return err
		}
		for i := range sels {
			sels[i].ID = 0
			sels[i].UserID = userID
			if err := tx.Create(&sels[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SyncState holds the resumption cursor and watch channel bookkeeping for
// one (user, provider calendar) pair. An empty SyncToken forces the next
// sync into a bounded full listing.
type SyncState struct {
	gorm.Model
	UserID           uint      `json:"user_id" gorm:"uniqueIndex:idx_sync_user_cal"`
	CalendarID       string    `json:"calendar_id" gorm:"uniqueIndex:idx_sync_user_cal"`
	SyncToken        string    `json:"-"`
	ChannelID        string    `json:"channel_id"`
	ResourceID       string    `json:"resource_id"`
	ChannelExpiresAt time.Time `json:"channel_expires_at"`
}

// WatchActive reports whether a push channel is currently registered.
func (s *SyncState) WatchActive() bool {
	return s.ChannelID != ""
}

// SyncStateFor loads the state row for the pair, initializing an unsaved
// zero state when none exists yet.
func SyncStateFor(userID uint, calendarID string, db *gorm.DB) (*SyncState, error) {
	var state SyncState
	err := db.Where("user_id = ? AND calendar_id = ?", userID, calendarID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &SyncState{UserID: userID, CalendarID: calendarID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SyncStateByChannelID resolves an inbound notification's channel id to its
// state row. Unknown ids return gorm.ErrRecordNotFound.
func SyncStateByChannelID(channelID string, db *gorm.DB) (*SyncState, error) {
	var state SyncState
	if err := db.Where("channel_id = ?", channelID).First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// Save upserts the state row keyed by (user_id, calendar_id).
func (s *SyncState) Save(db *gorm.DB) error {
	if s.ID != 0 {
		return db.Save(s).Error
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "calendar_id"}},
		UpdateAll: true,
	}).Create(s).Error
}

// DeleteSyncStates drops every cursor row the user owns (account unlink).
func DeleteSyncStates(userID uint, db *gorm.DB) error {
	return db.Unscoped().Where("user_id = ?", userID).Delete(&SyncState{}).Error
}

// ExternalEventRef ties a local event to its mirrored provider copy. Empty
// RefEventID means the event is local-only.
type ExternalEventRef struct {
	RefCalendarID string `json:"ref_calendar_id"`
	RefEventID    string `json:"ref_event_id"`
	RefEtag       string `json:"ref_etag"`
}

// Mirrored reports whether the event has a provider-side copy.
func (r ExternalEventRef) Mirrored() bool { return r.RefEventID != "" }

// Event is the local calendar entity. Local state is the source of truth;
// the embedded ref only records where the provider copy lives.
type Event struct {
	gorm.Model
	UserID      uint      `json:"user_id"`
	CalendarID  string    `json:"calendar_id"`
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
	ExternalEventRef
}

// EventsInRange returns the user's events overlapping [from, to).
func EventsInRange(userID uint, from, to time.Time, db *gorm.DB) ([]Event, error) {
	var events []Event
	err := db.Where("user_id = ? AND start_time < ? AND end_time > ?", userID, to, from).
		Order("start_time asc").Find(&events).Error
	return events, err
}

// EventByID fetches one event owned by the user.
func EventByID(userID uint, id uint, db *gorm.DB) (*Event, error) {
	var ev Event
	if err := db.Where("user_id = ? AND id = ?", userID, id).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// CalendarDescriptor identifies a calendar in merged output.
type CalendarDescriptor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Merged event source tags.
const (
	SourceLocal    = "local"
	SourceExternal = "external"
)

// MergedEvent is the transient, normalized projection the unified view
// returns. Never persisted.
type MergedEvent struct {
	Source   string             `json:"source"`
	Title    string             `json:"title"`
	Start    time.Time          `json:"start"`
	End      time.Time          `json:"end"`
	Calendar CalendarDescriptor `json:"calendar"`
}

// BusyInterval is one opaque busy period from a free/busy query.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
