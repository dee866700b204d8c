package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nawafid/taqwim/cal_fields"
)

// Client talks to the Google Calendar v3 api. It is stateless: every
// call takes the access token of the user it acts for.
type Client struct {
	Config cal_fields.TaqwimConfig
	Logger *logrus.Logger
}

// NewClient returns a provider client configured from taqwim config.
func NewClient(config cal_fields.TaqwimConfig, logger *logrus.Logger) *Client {
	return &Client{Config: config, Logger: logger}
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.Config.GoogleClientID,
		ClientSecret: c.Config.GoogleClientSecret,
		RedirectURL:  c.Config.GoogleRedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{cal_fields.ScopeCalendar},
	}
}

func (c *Client) timeout() time.Duration {
	if c.Config.ProviderTimeoutSeconds <= 0 {
		return 25 * time.Second
	}
	return time.Duration(c.Config.ProviderTimeoutSeconds) * time.Second
}

func (c *Client) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	srv, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, mapError(err)
	}
	return srv, nil
}

// Exchange swaps an authorization code for a token set.
func (c *Client) Exchange(ctx context.Context, code string) (cal_fields.TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	token, err := c.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return cal_fields.TokenSet{}, mapError(err)
	}
	scope, _ := token.Extra("scope").(string)
	return cal_fields.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Scope:        scope,
	}, nil
}

// Refresh obtains a new access token from a refresh token. Google does
// not rotate refresh tokens on every refresh, so the returned set may
// carry an empty RefreshToken; the caller keeps the old one then.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (cal_fields.TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	source := c.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return cal_fields.TokenSet{}, mapError(err)
	}
	newRefresh := token.RefreshToken
	if newRefresh == refreshToken {
		newRefresh = ""
	}
	scope, _ := token.Extra("scope").(string)
	return cal_fields.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: newRefresh,
		Expiry:       token.Expiry,
		Scope:        scope,
	}, nil
}

// ListCalendars lists the user's calendar list entries.
func (c *Client) ListCalendars(ctx context.Context, accessToken string) ([]cal_fields.CalendarDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	var result []cal_fields.CalendarDescriptor
	pageToken := ""
	for {
		call := srv.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, mapError(err)
		}
		for _, item := range list.Items {
			result = append(result, cal_fields.CalendarDescriptor{
				ID:    item.Id,
				Name:  item.Summary,
				Color: item.BackgroundColor,
			})
		}
		if list.NextPageToken == "" {
			return result, nil
		}
		pageToken = list.NextPageToken
	}
}

// FindOrCreateCalendar locates the managed calendar by display name,
// creating it when absent, and returns its id.
func (c *Client) FindOrCreateCalendar(ctx context.Context, accessToken, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return "", err
	}
	pageToken := ""
	for {
		call := srv.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return "", mapError(err)
		}
		for _, item := range list.Items {
			if item.Summary == name {
				return item.Id, nil
			}
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	created, err := srv.Calendars.Insert(&calendar.Calendar{Summary: name}).Context(ctx).Do()
	if err != nil {
		return "", mapError(err)
	}
	c.Logger.WithField("calendar_id", created.Id).Info("created managed calendar")
	return created.Id, nil
}

func toAPIEvent(event cal_fields.Event) *calendar.Event {
	return &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start:       &calendar.EventDateTime{DateTime: event.StartTime.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: event.EndTime.Format(time.RFC3339)},
	}
}

func fromAPIEvent(calendarID string, item *calendar.Event) cal_fields.ProviderEvent {
	out := cal_fields.ProviderEvent{
		ID:         item.Id,
		CalendarID: calendarID,
		Etag:       item.Etag,
		Status:     item.Status,
	}
	if item.Status == cal_fields.StatusCancelled {
		return out
	}
	out.Title = item.Summary
	out.Description = item.Description
	out.Location = item.Location
	out.Start = parseEventTime(item.Start)
	out.End = parseEventTime(item.End)
	return out
}

// parseEventTime handles both timed and all-day events. All-day events
// carry a bare date which we pin to midnight UTC.
func parseEventTime(edt *calendar.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t.UTC()
		}
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// InsertEvent mirrors a local event onto the given provider calendar.
func (c *Client) InsertEvent(ctx context.Context, accessToken, calendarID string, event cal_fields.Event) (cal_fields.ProviderEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return cal_fields.ProviderEvent{}, err
	}
	created, err := srv.Events.Insert(calendarID, toAPIEvent(event)).Context(ctx).Do()
	if err != nil {
		return cal_fields.ProviderEvent{}, mapError(err)
	}
	return fromAPIEvent(calendarID, created), nil
}

// PatchEvent updates the mirrored copy of a local event.
func (c *Client) PatchEvent(ctx context.Context, accessToken, calendarID, eventID string, event cal_fields.Event) (cal_fields.ProviderEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return cal_fields.ProviderEvent{}, err
	}
	patched, err := srv.Events.Patch(calendarID, eventID, toAPIEvent(event)).Context(ctx).Do()
	if err != nil {
		return cal_fields.ProviderEvent{}, mapError(err)
	}
	return fromAPIEvent(calendarID, patched), nil
}

// DeleteEvent removes a mirrored event. A copy already gone on the
// provider side is success, not failure.
func (c *Client) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}
	err = srv.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return nil
		}
		return mapError(err)
	}
	return nil
}

// ListEvents performs a full-window listing and returns the sync token
// that resumes after it. Used on first sync and after a cursor reset.
func (c *Client) ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) (cal_fields.ChangeSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return cal_fields.ChangeSet{}, err
	}
	var set cal_fields.ChangeSet
	pageToken := ""
	for {
		call := srv.Events.List(calendarID).
			SingleEvents(true).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		events, err := call.Do()
		if err != nil {
			return cal_fields.ChangeSet{}, mapError(err)
		}
		for _, item := range events.Items {
			set.Items = append(set.Items, fromAPIEvent(calendarID, item))
		}
		if events.NextPageToken == "" {
			set.NextSyncToken = events.NextSyncToken
			if set.NextSyncToken == "" {
				return set, fmt.Errorf("provider returned no sync token for calendar %s", calendarID)
			}
			return set, nil
		}
		pageToken = events.NextPageToken
	}
}

// Changes lists everything changed since the sync token, deletions
// included as cancelled entries. A stale token surfaces as
// ErrCursorInvalid so the caller can fall back to a full listing.
func (c *Client) Changes(ctx context.Context, accessToken, calendarID, syncToken string) (cal_fields.ChangeSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return cal_fields.ChangeSet{}, err
	}
	var set cal_fields.ChangeSet
	pageToken := ""
	for {
		call := srv.Events.List(calendarID).
			SingleEvents(true).
			SyncToken(syncToken).
			ShowDeleted(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		events, err := call.Do()
		if err != nil {
			return cal_fields.ChangeSet{}, mapError(err)
		}
		for _, item := range events.Items {
			set.Items = append(set.Items, fromAPIEvent(calendarID, item))
		}
		if events.NextPageToken == "" {
			set.NextSyncToken = events.NextSyncToken
			return set, nil
		}
		pageToken = events.NextPageToken
	}
}

// Watch registers a push channel that delivers change notifications to
// the configured webhook address.
func (c *Client) Watch(ctx context.Context, accessToken, calendarID, channelID, address string) (cal_fields.WatchInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return cal_fields.WatchInfo{}, err
	}
	channel, err := srv.Events.Watch(calendarID, &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
	}).Context(ctx).Do()
	if err != nil {
		return cal_fields.WatchInfo{}, mapError(err)
	}
	info := cal_fields.WatchInfo{
		ChannelID:  channel.Id,
		ResourceID: channel.ResourceId,
	}
	if channel.Expiration > 0 {
		info.ExpiresAt = time.UnixMilli(channel.Expiration).UTC()
	}
	return info, nil
}

// StopWatch tears down a push channel. An already-dead channel is fine.
func (c *Client) StopWatch(ctx context.Context, accessToken, channelID, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}
	err = srv.Channels.Stop(&calendar.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil
		}
		return mapError(err)
	}
	return nil
}

// FreeBusy queries busy intervals per calendar over the window.
func (c *Client) FreeBusy(ctx context.Context, accessToken string, calendarIDs []string, from, to time.Time) (map[string][]cal_fields.BusyInterval, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	items := make([]*calendar.FreeBusyRequestItem, 0, len(calendarIDs))
	for _, id := range calendarIDs {
		items = append(items, &calendar.FreeBusyRequestItem{Id: id})
	}
	response, err := srv.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   items,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	result := make(map[string][]cal_fields.BusyInterval, len(response.Calendars))
	for id, cal := range response.Calendars {
		intervals := make([]cal_fields.BusyInterval, 0, len(cal.Busy))
		for _, period := range cal.Busy {
			start, err := time.Parse(time.RFC3339, period.Start)
			if err != nil {
				continue
			}
			end, err := time.Parse(time.RFC3339, period.End)
			if err != nil {
				continue
			}
			intervals = append(intervals, cal_fields.BusyInterval{Start: start.UTC(), End: end.UTC()})
		}
		result[id] = intervals
	}
	return result, nil
}

// AuthURL builds the consent page url for the given state.
func (c *Client) AuthURL(state string) string {
	return c.oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}
