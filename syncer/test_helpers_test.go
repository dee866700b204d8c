package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nawafid/taqwim/cal_fields"
	"github.com/nawafid/taqwim/gateway"
)

type testEnv struct {
	Router   *fiber.App
	Service  *Service
	Auth     *gateway.JWTAuth
	DB       *gorm.DB
	Provider *fakeProvider
}

// fakeProvider scripts provider behavior per test through overridable
// funcs. Unset funcs return benign defaults.
type fakeProvider struct {
	ExchangeFn     func(ctx context.Context, code string) (cal_fields.TokenSet, error)
	RefreshFn      func(ctx context.Context, refreshToken string) (cal_fields.TokenSet, error)
	ListCalsFn     func(ctx context.Context, accessToken string) ([]cal_fields.CalendarDescriptor, error)
	FindOrCreateFn func(ctx context.Context, accessToken, name string) (string, error)
	InsertFn       func(ctx context.Context, accessToken, calendarID string, event cal_fields.Event) (cal_fields.ProviderEvent, error)
	PatchFn        func(ctx context.Context, accessToken, calendarID, eventID string, event cal_fields.Event) (cal_fields.ProviderEvent, error)
	DeleteFn       func(ctx context.Context, accessToken, calendarID, eventID string) error
	ListEventsFn   func(ctx context.Context, accessToken, calendarID string, from, to time.Time) (cal_fields.ChangeSet, error)
	ChangesFn      func(ctx context.Context, accessToken, calendarID, syncToken string) (cal_fields.ChangeSet, error)
	WatchFn        func(ctx context.Context, accessToken, calendarID, channelID, address string) (cal_fields.WatchInfo, error)
	StopWatchFn    func(ctx context.Context, accessToken, channelID, resourceID string) error
	FreeBusyFn     func(ctx context.Context, accessToken string, calendarIDs []string, from, to time.Time) (map[string][]cal_fields.BusyInterval, error)

	RefreshCalls  int
	ExchangeCalls int
	ListCalls     int
	ChangesCalls  int
}

func (f *fakeProvider) Exchange(ctx context.Context, code string) (cal_fields.TokenSet, error) {
	f.ExchangeCalls++
	if f.ExchangeFn != nil {
		return f.ExchangeFn(ctx, code)
	}
	return cal_fields.TokenSet{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
		Scope:        cal_fields.ScopeCalendar,
	}, nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (cal_fields.TokenSet, error) {
	f.RefreshCalls++
	if f.RefreshFn != nil {
		return f.RefreshFn(ctx, refreshToken)
	}
	return cal_fields.TokenSet{
		AccessToken: "refreshed-access",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeProvider) ListCalendars(ctx context.Context, accessToken string) ([]cal_fields.CalendarDescriptor, error) {
	if f.ListCalsFn != nil {
		return f.ListCalsFn(ctx, accessToken)
	}
	return nil, nil
}

func (f *fakeProvider) FindOrCreateCalendar(ctx context.Context, accessToken, name string) (string, error) {
	if f.FindOrCreateFn != nil {
		return f.FindOrCreateFn(ctx, accessToken, name)
	}
	return "managed-cal", nil
}

func (f *fakeProvider) InsertEvent(ctx context.Context, accessToken, calendarID string, event cal_fields.Event) (cal_fields.ProviderEvent, error) {
	if f.InsertFn != nil {
		return f.InsertFn(ctx, accessToken, calendarID, event)
	}
	return cal_fields.ProviderEvent{ID: "remote-1", CalendarID: calendarID, Etag: "etag-1"}, nil
}

func (f *fakeProvider) PatchEvent(ctx context.Context, accessToken, calendarID, eventID string, event cal_fields.Event) (cal_fields.ProviderEvent, error) {
	if f.PatchFn != nil {
		return f.PatchFn(ctx, accessToken, calendarID, eventID, event)
	}
	return cal_fields.ProviderEvent{ID: eventID, CalendarID: calendarID, Etag: "etag-2"}, nil
}

func (f *fakeProvider) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, accessToken, calendarID, eventID)
	}
	return nil
}

func (f *fakeProvider) ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) (cal_fields.ChangeSet, error) {
	f.ListCalls++
	if f.ListEventsFn != nil {
		return f.ListEventsFn(ctx, accessToken, calendarID, from, to)
	}
	return cal_fields.ChangeSet{NextSyncToken: "token-full"}, nil
}

func (f *fakeProvider) Changes(ctx context.Context, accessToken, calendarID, syncToken string) (cal_fields.ChangeSet, error) {
	f.ChangesCalls++
	if f.ChangesFn != nil {
		return f.ChangesFn(ctx, accessToken, calendarID, syncToken)
	}
	return cal_fields.ChangeSet{NextSyncToken: "token-next"}, nil
}

func (f *fakeProvider) Watch(ctx context.Context, accessToken, calendarID, channelID, address string) (cal_fields.WatchInfo, error) {
	if f.WatchFn != nil {
		return f.WatchFn(ctx, accessToken, calendarID, channelID, address)
	}
	return cal_fields.WatchInfo{ChannelID: channelID, ResourceID: "res-1", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

func (f *fakeProvider) StopWatch(ctx context.Context, accessToken, channelID, resourceID string) error {
	if f.StopWatchFn != nil {
		return f.StopWatchFn(ctx, accessToken, channelID, resourceID)
	}
	return nil
}

func (f *fakeProvider) FreeBusy(ctx context.Context, accessToken string, calendarIDs []string, from, to time.Time) (map[string][]cal_fields.BusyInterval, error) {
	if f.FreeBusyFn != nil {
		return f.FreeBusyFn(ctx, accessToken, calendarIDs, from, to)
	}
	return map[string][]cal_fields.BusyInterval{}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&cal_fields.User{},
		&cal_fields.CalendarAccount{},
		&cal_fields.CalendarSelection{},
		&cal_fields.SyncState{},
		&cal_fields.Event{},
		&cal_fields.PushDataRecord{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	cfg := cal_fields.TaqwimConfig{
		JWTKey:              "test-secret",
		ManagedCalendarName: "Taqwim",
		WebhookURL:          "https://taqwim.example.com/calendar/webhook",
	}
	cfg.Defaults()

	auth := &gateway.JWTAuth{Config: cfg}
	auth.Init()

	logger := logrus.New()
	provider := &fakeProvider{}
	service := NewService(db, nil, cfg, logger, nil, auth, provider)

	r := fiber.New()
	r.Post("/register", service.CreateUser)
	r.Post("/login", service.Login)
	r.Post("/webhook", service.Webhook)
	r.Use(auth.AuthMiddleware())
	r.Post("/link", service.LinkCalendar)
	r.Post("/unlink", service.UnlinkCalendar)
	r.Get("/status", service.LinkStatus)
	r.Get("/unified", service.UnifiedView)
	r.Get("/suggest_times", service.SuggestTimes)
	r.Post("/sync", service.Sync)
	r.Post("/watch", service.StartWatchHandler)
	r.Delete("/watch", service.StopWatchHandler)
	r.Get("/events", service.GetEvents)
	r.Post("/events", service.PostEvent)
	r.Put("/events/:id", service.PutEvent)
	r.Delete("/events/:id", service.DeleteEventHandler)

	return &testEnv{Router: r, Service: service, Auth: auth, DB: db, Provider: provider}
}

func seedUser(t *testing.T, db *gorm.DB, mobile, password string) cal_fields.User {
	t.Helper()
	user := cal_fields.User{
		Mobile:   mobile,
		Password: password,
		Email:    mobile + "@example.com",
		DeviceID: "device-" + mobile,
	}
	if err := user.HashPassword(); err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func seedLinkedUser(t *testing.T, db *gorm.DB, mobile string) cal_fields.User {
	t.Helper()
	user := seedUser(t, db, mobile, "password-123")
	acct := cal_fields.CalendarAccount{
		UserID:            user.ID,
		AccessToken:       "access-ok",
		RefreshToken:      "refresh-ok",
		Expiry:            time.Now().Add(time.Hour),
		Scope:             cal_fields.ScopeCalendar,
		ManagedCalendarID: "managed-cal",
	}
	if err := cal_fields.SaveAccount(&acct, db); err != nil {
		t.Fatalf("save account: %v", err)
	}
	return user
}

func seedSelection(t *testing.T, db *gorm.DB, userID uint, calendarID, name string) {
	t.Helper()
	sel := cal_fields.CalendarSelection{UserID: userID, CalendarID: calendarID, DisplayName: name}
	if err := db.Create(&sel).Error; err != nil {
		t.Fatalf("create selection: %v", err)
	}
}
