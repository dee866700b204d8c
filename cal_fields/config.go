package cal_fields

// TaqwimConfig holds every knob taqwim needs. It is loaded from config.yaml
// (and an optional secrets file) in cli and passed around by value.
type TaqwimConfig struct {
	Port         string `json:"port" yaml:"port"`
	Debug        bool   `json:"debug" yaml:"debug"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
	RedisPort    string `json:"redis_port" yaml:"redis_port"`
	JWTKey       string `json:"jwt_key" yaml:"jwt_key"`

	// Google OAuth + Calendar API
	GoogleClientID     string `json:"google_client_id" yaml:"google_client_id"`
	GoogleClientSecret string `json:"google_client_secret" yaml:"google_client_secret"`
	GoogleRedirectURL  string `json:"google_redirect_url" yaml:"google_redirect_url"`

	// WebhookURL is the public address Google pushes channel notifications to.
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`

	// ManagedCalendarName is the display name of the calendar taqwim creates
	// on the provider side to hold mirrored events.
	ManagedCalendarName string `json:"managed_calendar_name" yaml:"managed_calendar_name"`

	// Bounded window used when a full resync is forced (cursor invalidated
	// or initial backfill with no explicit window).
	SyncPastDays   int `json:"sync_past_days" yaml:"sync_past_days"`
	SyncFutureDays int `json:"sync_future_days" yaml:"sync_future_days"`

	// ProviderTimeoutSeconds bounds every outbound Google call.
	ProviderTimeoutSeconds int `json:"provider_timeout_seconds" yaml:"provider_timeout_seconds"`

	// Path to the firebase service account file. Empty disables push.
	FirebaseCredentials string `json:"firebase_credentials" yaml:"firebase_credentials"`
}

// Defaults fills in sane defaults for anything the config file left out.
func (c *TaqwimConfig) Defaults() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "taqwim.db"
	}
	if c.RedisPort == "" {
		c.RedisPort = "localhost:6379"
	}
	if c.ManagedCalendarName == "" {
		c.ManagedCalendarName = "Taqwim"
	}
	if c.SyncPastDays <= 0 {
		c.SyncPastDays = 30
	}
	if c.SyncFutureDays <= 0 {
		c.SyncFutureDays = 90
	}
	if c.ProviderTimeoutSeconds <= 0 {
		c.ProviderTimeoutSeconds = 25
	}
}
