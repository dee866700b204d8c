package cal_fields

import "time"

// Provider event status values, matching the Google event lifecycle.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// TokenSet is what an authorization exchange or refresh yields.
type TokenSet struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope"`
}

// ProviderEvent is the normalized wire shape of one provider calendar
// event, local to taqwim; the gcal package converts the API types.
type ProviderEvent struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendar_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Etag        string    `json:"etag,omitempty"`
	// Status carries deletions through incremental sync: a cancelled item
	// is the provider's tombstone for the event.
	Status string `json:"status"`
}

// Deleted reports whether this change entry is a tombstone.
func (e ProviderEvent) Deleted() bool { return e.Status == StatusCancelled }

// ChangeSet is one incremental (or full-window) listing result.
type ChangeSet struct {
	Items []ProviderEvent `json:"items"`
	// NextSyncToken resumes after this listing. Always set on success,
	// even when Items is empty.
	NextSyncToken string `json:"-"`
}

// WatchInfo describes a registered push channel.
type WatchInfo struct {
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}
