package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nawafid/taqwim/cal_fields"
)

// expirySkew is how early a token counts as expiring. Refreshing ahead
// of the wall-clock expiry keeps in-flight provider calls from racing
// the deadline.
const expirySkew = 2 * time.Minute

// LinkAccount exchanges an authorization code and establishes the
// user's calendar link. Scope is checked before anything persists, so a
// narrow grant leaves no half-linked account behind. Re-linking simply
// overwrites the stored credential.
func (s *Service) LinkAccount(ctx context.Context, userID uint, code string) (*cal_fields.CalendarAccount, error) {
	tokens, err := s.Provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	acct := &cal_fields.CalendarAccount{
		UserID:       userID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Expiry:       tokens.Expiry,
		Scope:        tokens.Scope,
	}
	if !acct.HasCalendarReadWrite() {
		return nil, cal_fields.ErrInsufficientScope
	}
	if !acct.Established() {
		// Google omits the refresh token when the user had granted
		// consent before without prompt=consent.
		return nil, fmt.Errorf("%w: no refresh token in grant", cal_fields.ErrAuthExchange)
	}

	// Carry over the managed calendar id from a previous link so
	// mirrored events keep landing in the same place.
	if prev, err := cal_fields.AccountByUserID(userID, s.Db); err == nil {
		acct.ManagedCalendarID = prev.ManagedCalendarID
	}
	if acct.ManagedCalendarID == "" {
		id, err := s.Provider.FindOrCreateCalendar(ctx, acct.AccessToken, s.TaqwimConfig.ManagedCalendarName)
		if err != nil {
			// The link is still usable, the managed calendar gets
			// resolved lazily on the first write-through.
			s.Logger.WithError(err).Warn("managed calendar setup deferred")
		} else {
			acct.ManagedCalendarID = id
		}
	}
	if err := cal_fields.SaveAccount(acct, s.Db); err != nil {
		return nil, err
	}
	return acct, nil
}

// FreshToken returns an access token guaranteed to outlive the skew
// window, refreshing it first when needed. Refreshes are serialized per
// user; the loser of the race rereads the row and finds a fresh token.
func (s *Service) FreshToken(ctx context.Context, userID uint) (*cal_fields.CalendarAccount, error) {
	acct, err := cal_fields.AccountByUserID(userID, s.Db)
	if err != nil {
		return nil, err
	}
	if !acct.Established() {
		return nil, cal_fields.ErrNotLinked
	}
	if time.Until(acct.Expiry) > expirySkew {
		return acct, nil
	}

	key := strconv.FormatUint(uint64(userID), 10)
	s.userLocks.Lock(key)
	defer s.userLocks.Unlock(key)

	// Another request may have refreshed while we waited on the lock.
	acct, err = cal_fields.AccountByUserID(userID, s.Db)
	if err != nil {
		return nil, err
	}
	if time.Until(acct.Expiry) > expirySkew {
		return acct, nil
	}

	tokens, err := s.Provider.Refresh(ctx, acct.RefreshToken)
	if err != nil {
		if errors.Is(err, cal_fields.ErrReauthRequired) {
			s.notifyReauth(userID)
		}
		return nil, err
	}
	acct.AccessToken = tokens.AccessToken
	acct.Expiry = tokens.Expiry
	if tokens.RefreshToken != "" {
		acct.RefreshToken = tokens.RefreshToken
	}
	if tokens.Scope != "" {
		acct.Scope = tokens.Scope
	}
	if err := cal_fields.SaveAccount(acct, s.Db); err != nil {
		return nil, err
	}
	return acct, nil
}

// UnlinkAccount stops active watch channels, drops the credential and
// every sync cursor. Local events and their provider refs stay; only
// the link dies.
func (s *Service) UnlinkAccount(ctx context.Context, userID uint) error {
	acct, err := cal_fields.AccountByUserID(userID, s.Db)
	if err != nil {
		if errors.Is(err, cal_fields.ErrNotLinked) {
			return nil
		}
		return err
	}

	var states []cal_fields.SyncState
	if err := s.Db.Where("user_id = ?", userID).Find(&states).Error; err == nil {
		for _, state := range states {
			if !state.WatchActive() {
				continue
			}
			if err := s.Provider.StopWatch(ctx, acct.AccessToken, state.ChannelID, state.ResourceID); err != nil {
				s.Logger.WithError(err).WithField("channel_id", state.ChannelID).Warn("stop watch on unlink failed")
			}
		}
	}
	if err := cal_fields.DeleteSyncStates(userID, s.Db); err != nil {
		return err
	}
	return s.Db.Unscoped().Where("user_id = ?", userID).Delete(&cal_fields.CalendarAccount{}).Error
}

// notifyReauth queues a push telling the user their link died and they
// must go through consent again.
func (s *Service) notifyReauth(userID uint) {
	user, err := cal_fields.GetUserByID(userID, s.Db)
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", userID).Error("reauth notify: user lookup failed")
		return
	}
	s.Pusher.Enqueue(cal_fields.PushDataRecord{
		Kind:       cal_fields.PushKindReauth,
		To:         user.DeviceID,
		Title:      "Calendar access expired",
		Body:       "Google revoked taqwim's access. Open the app and link your calendar again.",
		UserMobile: user.Mobile,
	})
}
