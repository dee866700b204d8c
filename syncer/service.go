// Package syncer implements taqwim's calendar mirroring engine and its
// http apis: linking a Google account, write-through propagation of
// local events, incremental sync of opted-in calendars, push channel
// handling and the merged read views.
package syncer

import (
	"context"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nawafid/taqwim/cal_fields"
	"github.com/nawafid/taqwim/gateway"
)

// Provider is the surface the sync engine needs from a calendar
// provider. gcal.Client is the production implementation; tests swap in
// a fake.
type Provider interface {
	Exchange(ctx context.Context, code string) (cal_fields.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (cal_fields.TokenSet, error)
	ListCalendars(ctx context.Context, accessToken string) ([]cal_fields.CalendarDescriptor, error)
	FindOrCreateCalendar(ctx context.Context, accessToken, name string) (string, error)
	InsertEvent(ctx context.Context, accessToken, calendarID string, event cal_fields.Event) (cal_fields.ProviderEvent, error)
	PatchEvent(ctx context.Context, accessToken, calendarID, eventID string, event cal_fields.Event) (cal_fields.ProviderEvent, error)
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
	ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) (cal_fields.ChangeSet, error)
	Changes(ctx context.Context, accessToken, calendarID, syncToken string) (cal_fields.ChangeSet, error)
	Watch(ctx context.Context, accessToken, calendarID, channelID, address string) (cal_fields.WatchInfo, error)
	StopWatch(ctx context.Context, accessToken, channelID, resourceID string) error
	FreeBusy(ctx context.Context, accessToken string, calendarIDs []string, from, to time.Time) (map[string][]cal_fields.BusyInterval, error)
}

// Service carries every dependency the calendar handlers need.
type Service struct {
	Db           *gorm.DB
	Redis        *redis.Client
	TaqwimConfig cal_fields.TaqwimConfig
	Logger       *logrus.Logger
	FirebaseApp  *firebase.App
	Auth         *gateway.JWTAuth
	Provider     Provider
	Pusher       *Pusher

	// userLocks serializes credential refresh per user; syncLocks
	// serializes sync per (user, calendar) pair.
	userLocks keyedMutex
	syncLocks keyedMutex
}

// NewService wires a Service and its push queue.
func NewService(db *gorm.DB, rdb *redis.Client, config cal_fields.TaqwimConfig, logger *logrus.Logger,
	firebaseApp *firebase.App, auth *gateway.JWTAuth, provider Provider) *Service {
	s := &Service{
		Db:           db,
		Redis:        rdb,
		TaqwimConfig: config,
		Logger:       logger,
		FirebaseApp:  firebaseApp,
		Auth:         auth,
		Provider:     provider,
	}
	s.Pusher = newPusher(s)
	return s
}

// syncWindow is the bounded listing window used for full resyncs.
func (s *Service) syncWindow(now time.Time) (time.Time, time.Time) {
	from := now.AddDate(0, 0, -s.TaqwimConfig.SyncPastDays)
	to := now.AddDate(0, 0, s.TaqwimConfig.SyncFutureDays)
	return from, to
}
