package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nawafid/taqwim/cal_fields"
)

// ErrWatchUnconfigured is returned when no public webhook address is
// configured, which makes push channels impossible.
var ErrWatchUnconfigured = errors.New("webhook url not configured")

// StartWatch registers a push channel for the pair and records its
// identity on the sync state. An existing live channel gets stopped
// first so the pair never holds two. A caller-supplied channel id is
// honored; absent one a random id is minted.
func (s *Service) StartWatch(ctx context.Context, userID uint, calendarID, channelID string) (*cal_fields.SyncState, error) {
	if s.TaqwimConfig.WebhookURL == "" {
		return nil, ErrWatchUnconfigured
	}
	acct, err := s.FreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	state, err := cal_fields.SyncStateFor(userID, calendarID, s.Db)
	if err != nil {
		return nil, err
	}
	if state.WatchActive() {
		if err := s.Provider.StopWatch(ctx, acct.AccessToken, state.ChannelID, state.ResourceID); err != nil {
			s.Logger.WithError(err).WithField("channel_id", state.ChannelID).Warn("stopping stale channel failed")
		}
	}

	if channelID == "" {
		channelID = uuid.NewString()
	}
	info, err := s.Provider.Watch(ctx, acct.AccessToken, calendarID, channelID, s.TaqwimConfig.WebhookURL)
	if err != nil {
		return nil, err
	}
	state.ChannelID = info.ChannelID
	state.ResourceID = info.ResourceID
	state.ChannelExpiresAt = info.ExpiresAt
	if err := state.Save(s.Db); err != nil {
		return nil, err
	}
	return state, nil
}

// StopWatchChannel tears the pair's channel down. Absent channel is a
// no-op, teardown must be idempotent.
func (s *Service) StopWatchChannel(ctx context.Context, userID uint, calendarID string) error {
	state, err := cal_fields.SyncStateFor(userID, calendarID, s.Db)
	if err != nil {
		return err
	}
	if !state.WatchActive() {
		return nil
	}
	acct, err := s.FreshToken(ctx, userID)
	if err == nil {
		if err := s.Provider.StopWatch(ctx, acct.AccessToken, state.ChannelID, state.ResourceID); err != nil {
			s.Logger.WithError(err).WithField("channel_id", state.ChannelID).Warn("provider stop watch failed")
		}
	}
	state.ChannelID = ""
	state.ResourceID = ""
	state.ChannelExpiresAt = time.Time{}
	return state.Save(s.Db)
}

// HandleNotification processes one push delivery. Unknown channels are
// discarded quietly: they are leftovers of channels we already stopped,
// and an error response would only make Google retry. Deliveries are
// deduplicated on (channel, message number) via redis so notification
// bursts collapse into one sync run.
func (s *Service) HandleNotification(ctx context.Context, channelID, resourceState, messageNumber string) {
	if channelID == "" {
		return
	}
	state, err := cal_fields.SyncStateByChannelID(channelID, s.Db)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.Logger.WithField("channel_id", channelID).Debug("notification for unknown channel discarded")
		} else {
			s.Logger.WithError(err).Error("notification channel lookup failed")
		}
		return
	}

	// The initial "sync" message just confirms the channel is live.
	if resourceState == "sync" {
		s.Logger.WithField("channel_id", channelID).Info("watch channel confirmed")
		return
	}

	if messageNumber != "" && s.Redis != nil {
		dedupKey := "watch:" + channelID + ":" + messageNumber
		ok, err := s.Redis.SetNX(ctx, dedupKey, 1, 24*time.Hour).Result()
		if err == nil && !ok {
			return
		}
	}

	if _, err := s.SyncCalendar(ctx, state.UserID, state.CalendarID); err != nil {
		s.Logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":     state.UserID,
			"calendar_id": state.CalendarID,
		}).Warn("notification-triggered sync failed")
	}
}

// RenewExpiringWatches re-registers channels that expire within the
// horizon. Meant to be called periodically from cli.
func (s *Service) RenewExpiringWatches(ctx context.Context, horizon time.Duration) {
	var states []cal_fields.SyncState
	deadline := time.Now().Add(horizon)
	if err := s.Db.Where("channel_id <> '' AND channel_expires_at < ?", deadline).Find(&states).Error; err != nil {
		s.Logger.WithError(err).Error("expiring watch scan failed")
		return
	}
	for _, state := range states {
		if _, err := s.StartWatch(ctx, state.UserID, state.CalendarID, ""); err != nil {
			s.Logger.WithError(err).WithField("calendar_id", state.CalendarID).Warn("watch renewal failed")
		}
	}
}
