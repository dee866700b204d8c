package syncer

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/nawafid/taqwim/cal_fields"
)

type linkRequest struct {
	Code string `json:"code" binding:"required"`
}

// LinkCalendar exchanges an authorization code and establishes the
// calendar link for the caller.
func (s *Service) LinkCalendar(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	var req linkRequest
	if err := bindJSON(c, &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}

	acct, err := s.LinkAccount(c.UserContext(), userID, req.Code)
	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(fiber.Map{"linked": true, "scope": acct.Scope, "managed_calendar_id": acct.ManagedCalendarID})
	case errors.Is(err, cal_fields.ErrInsufficientScope):
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "access_denied", "message": err.Error(), "requires_reauth": true})
	case errors.Is(err, cal_fields.ErrAuthExchange), errors.Is(err, cal_fields.ErrReauthRequired):
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "invalid_grant", "message": err.Error(), "requires_reauth": true})
	case cal_fields.IsTransient(err):
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"code": "provider_unavailable", "message": err.Error()})
	default:
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "link_failed", "message": err.Error()})
	}
}

// UnlinkCalendar drops the calendar link, its cursors and channels.
func (s *Service) UnlinkCalendar(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	if err := s.UnlinkAccount(c.UserContext(), userID); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "unlink_failed", "message": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"linked": false})
}

// LinkStatus reports whether the caller holds an established link.
func (s *Service) LinkStatus(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	acct, err := cal_fields.AccountByUserID(userID, s.Db)
	if err != nil {
		if errors.Is(err, cal_fields.ErrNotLinked) {
			return c.Status(http.StatusOK).JSON(fiber.Map{"linked": false})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"linked":              acct.Established(),
		"scope":               acct.Scope,
		"managed_calendar_id": acct.ManagedCalendarID,
	})
}

// AuthURL hands the client the consent page url.
func (s *Service) AuthURL(c *fiber.Ctx) error {
	type authURLer interface{ AuthURL(state string) string }
	p, ok := s.Provider.(authURLer)
	if !ok {
		return c.Status(http.StatusNotImplemented).JSON(fiber.Map{"code": "not_supported", "message": "provider has no consent url"})
	}
	state := c.Query("state")
	return c.Status(http.StatusOK).JSON(fiber.Map{"url": p.AuthURL(state)})
}

// ListProviderCalendars lists the calendars on the linked account, for
// the selection screen.
func (s *Service) ListProviderCalendars(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	acct, err := s.FreshToken(c.UserContext(), userID)
	if err != nil {
		return s.providerError(c, err)
	}
	calendars, err := s.Provider.ListCalendars(c.UserContext(), acct.AccessToken)
	if err != nil {
		return s.providerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"calendars": calendars})
}

// GetSelections lists the caller's opted-in calendars.
func (s *Service) GetSelections(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	sels, err := cal_fields.SelectionsByUserID(userID, s.Db)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"selections": sels})
}

type selectionsRequest struct {
	Selections []cal_fields.CalendarSelection `json:"selections"`
}

// PutSelections replaces the caller's opted-in calendar set.
func (s *Service) PutSelections(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	var req selectionsRequest
	if err := parseJSON(c, &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	for _, sel := range req.Selections {
		if sel.CalendarID == "" {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": "calendar_id is required"})
		}
	}
	if err := cal_fields.ReplaceSelections(userID, req.Selections, s.Db); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"selections": req.Selections})
}

// UnifiedView returns the merged local + provider event feed. The
// include_local/include_external query flags narrow the sources; a
// local-only request never touches the provider.
func (s *Service) UnifiedView(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	from, to, err := parseWindow(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	opts := UnifiedOptions{
		IncludeLocal:    c.QueryBool("include_local", true),
		IncludeExternal: c.QueryBool("include_external", true),
	}
	view, err := s.Unified(c.UserContext(), userID, from, to, opts)
	if err != nil {
		return s.providerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

// SuggestTimes finds free meeting slots in the window.
func (s *Service) SuggestTimes(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	from, to, err := parseWindow(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	duration, err := strconv.Atoi(c.Query("duration", "30"))
	if err != nil || duration <= 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": "duration must be a positive number of minutes"})
	}
	var calendarIDs []string
	if raw := c.Query("calendar_ids"); raw != "" {
		calendarIDs = strings.Split(raw, ",")
	}
	suggestion, err := s.FindSlots(c.UserContext(), userID, from, to, duration, calendarIDs)
	if err != nil {
		return s.providerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(suggestion)
}

type syncRequest struct {
	CalendarID string `json:"calendar_id"`
}

// Sync advances cursors, one calendar when given, else every opted-in
// calendar.
func (s *Service) Sync(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	var req syncRequest
	_ = parseJSON(c, &req)

	if req.CalendarID != "" {
		update, err := s.SyncCalendar(c.UserContext(), userID, req.CalendarID)
		if err != nil {
			return s.providerError(c, err)
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"updates": []CalendarUpdate{*update}})
	}
	updates, err := s.SyncAll(c.UserContext(), userID)
	if err != nil && len(updates) == 0 {
		return s.providerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"updates": updates, "partial": err != nil})
}

type watchRequest struct {
	CalendarID string `json:"calendar_id" binding:"required"`
	// ChannelID is optional; when absent the server mints one.
	ChannelID string `json:"channel_id"`
}

// StartWatchHandler registers a push channel for the calendar.
func (s *Service) StartWatchHandler(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	var req watchRequest
	if err := bindJSON(c, &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	state, err := s.StartWatch(c.UserContext(), userID, req.CalendarID, req.ChannelID)
	if err != nil {
		if errors.Is(err, ErrWatchUnconfigured) {
			return c.Status(http.StatusNotImplemented).JSON(fiber.Map{"code": "watch_unconfigured", "message": err.Error()})
		}
		return s.providerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"channel_id":         state.ChannelID,
		"channel_expires_at": state.ChannelExpiresAt,
	})
}

// StopWatchHandler tears down the calendar's push channel.
func (s *Service) StopWatchHandler(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	var req watchRequest
	if err := bindJSON(c, &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	if err := s.StopWatchChannel(c.UserContext(), userID, req.CalendarID); err != nil {
		return s.providerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(nil)
}

// Webhook receives Google push notifications. Always answers 200: an
// error response only makes the provider retry, and unknown or
// duplicate deliveries carry no information worth retrying for.
func (s *Service) Webhook(c *fiber.Ctx) error {
	channelID := c.Get("X-Goog-Channel-ID")
	resourceState := c.Get("X-Goog-Resource-State")
	messageNumber := c.Get("X-Goog-Message-Number")
	s.HandleNotification(c.UserContext(), channelID, resourceState, messageNumber)
	return c.SendStatus(http.StatusOK)
}

// GetEvents lists the caller's local events in the window.
func (s *Service) GetEvents(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	from, to, err := parseWindow(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	events, err := cal_fields.EventsInRange(userID, from, to, s.Db)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"events": events})
}

// PostEvent creates a local event and mirrors it out.
func (s *Service) PostEvent(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	var event cal_fields.Event
	if err := bindJSON(c, &event); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	if !event.EndTime.After(event.StartTime) {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": "end_time must be after start_time"})
	}
	event.ID = 0
	event.UserID = userID
	event.ExternalEventRef = cal_fields.ExternalEventRef{}
	if err := s.CreateEvent(c.UserContext(), &event); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	return c.Status(http.StatusCreated).JSON(event)
}

// PutEvent updates a local event and refreshes its mirror.
func (s *Service) PutEvent(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": "invalid event id"})
	}
	event, err := cal_fields.EventByID(userID, uint(id), s.Db)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"code": "not_found", "message": "event not found"})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}

	var patch cal_fields.Event
	if err := bindJSON(c, &patch); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	if !patch.EndTime.After(patch.StartTime) {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": "end_time must be after start_time"})
	}
	event.Title = patch.Title
	event.Description = patch.Description
	event.Location = patch.Location
	event.StartTime = patch.StartTime
	event.EndTime = patch.EndTime
	if err := s.UpdateEvent(c.UserContext(), event); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(event)
}

// DeleteEventHandler removes a local event and its mirror.
func (s *Service) DeleteEventHandler(c *fiber.Ctx) error {
	userID := getUserID(c)
	if userID == 0 {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing user id"})
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": "invalid event id"})
	}
	event, err := cal_fields.EventByID(userID, uint(id), s.Db)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"code": "not_found", "message": "event not found"})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	if err := s.DeleteEvent(c.UserContext(), event); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	return c.Status(http.StatusNoContent).JSON(nil)
}

// providerError maps engine errors onto http responses uniformly.
func (s *Service) providerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, cal_fields.ErrNotLinked):
		return c.Status(http.StatusPreconditionFailed).JSON(fiber.Map{"code": "not_linked", "message": err.Error()})
	case errors.Is(err, cal_fields.ErrReauthRequired):
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "reauth_required", "message": err.Error(), "requires_reauth": true})
	case errors.Is(err, cal_fields.ErrInsufficientScope):
		return c.Status(http.StatusForbidden).JSON(fiber.Map{"code": "access_denied", "message": err.Error(), "requires_reauth": true})
	case cal_fields.IsTransient(err):
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"code": "provider_unavailable", "message": err.Error()})
	default:
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "internal_error", "message": err.Error()})
	}
}
