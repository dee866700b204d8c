package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/nawafid/taqwim/cal_fields"
)

func doRequest(t *testing.T, env *testEnv, method, target, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := env.Router.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func loginToken(t *testing.T, env *testEnv, user cal_fields.User) string {
	t.Helper()
	token, err := env.Auth.GenerateJWT(user.ID, user.Mobile)
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}
	return token
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := doRequest(t, env, http.MethodPost, "/register", "", map[string]string{
		"mobile":   "0912345678",
		"password": "password-123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	resp = doRequest(t, env, http.MethodPost, "/login", "", map[string]string{
		"mobile":   "0912345678",
		"password": "password-123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["authorization"] == "" {
		t.Error("no token issued")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.DB, "0912345678", "password-123")
	resp := doRequest(t, env, http.MethodPost, "/login", "", map[string]string{
		"mobile":   "0912345678",
		"password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLinkEndpointMapsAuthErrors(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "0912345678", "password-123")
	token := loginToken(t, env, user)

	env.Provider.ExchangeFn = func(ctx context.Context, code string) (cal_fields.TokenSet, error) {
		return cal_fields.TokenSet{}, cal_fields.ErrAuthExchange
	}
	resp := doRequest(t, env, http.MethodPost, "/link", token, map[string]string{"code": "bad"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "invalid_grant" || body["requires_reauth"] != true {
		t.Errorf("body = %v", body)
	}

	env.Provider.ExchangeFn = func(ctx context.Context, code string) (cal_fields.TokenSet, error) {
		return cal_fields.TokenSet{
			AccessToken: "a", RefreshToken: "r",
			Expiry: time.Now().Add(time.Hour),
			Scope:  cal_fields.ScopeCalendarReadonly,
		}, nil
	}
	resp = doRequest(t, env, http.MethodPost, "/link", token, map[string]string{"code": "narrow"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["code"] != "access_denied" {
		t.Errorf("body = %v", body)
	}
}

func TestLinkEndpointSuccess(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "0912345678", "password-123")
	token := loginToken(t, env, user)

	resp := doRequest(t, env, http.MethodPost, "/link", token, map[string]string{"code": "good"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["linked"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "0912345678", "password-123")
	token := loginToken(t, env, user)

	resp := doRequest(t, env, http.MethodGet, "/status", token, nil)
	body := decodeBody(t, resp)
	if body["linked"] != false {
		t.Errorf("unlinked user reported linked: %v", body)
	}

	linked := seedLinkedUser(t, env.DB, "0999999999")
	resp = doRequest(t, env, http.MethodGet, "/status", loginToken(t, env, linked), nil)
	body = decodeBody(t, resp)
	if body["linked"] != true {
		t.Errorf("linked user reported unlinked: %v", body)
	}
}

func TestEventsCRUDOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	user := seedLinkedUser(t, env.DB, "0912345678")
	token := loginToken(t, env, user)

	start := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	resp := doRequest(t, env, http.MethodPost, "/events", token, map[string]interface{}{
		"title":      "planning",
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decodeBody(t, resp)
	id := int(created["ID"].(float64))

	resp = doRequest(t, env, http.MethodGet,
		"/events?from="+start.Add(-time.Hour).Format(time.RFC3339)+"&to="+start.Add(2*time.Hour).Format(time.RFC3339),
		token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}

	resp = doRequest(t, env, http.MethodPut, "/events/"+strconv.Itoa(id), token, map[string]interface{}{
		"title":      "planning v2",
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(2 * time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	resp = doRequest(t, env, http.MethodDelete, "/events/"+strconv.Itoa(id), token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
}

func TestEventValidation(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "0912345678", "password-123")
	token := loginToken(t, env, user)

	// Missing title.
	start := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	resp := doRequest(t, env, http.MethodPost, "/events", token, map[string]interface{}{
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing title status = %d", resp.StatusCode)
	}

	// End before start.
	resp = doRequest(t, env, http.MethodPost, "/events", token, map[string]interface{}{
		"title":      "backwards",
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(-time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("backwards window status = %d", resp.StatusCode)
	}
}

func TestEventsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	resp := doRequest(t, env, http.MethodGet, "/events", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWebhookAlwaysAnswers200(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-Goog-Channel-ID", "never-seen")
	req.Header.Set("X-Goog-Resource-State", "exists")
	req.Header.Set("X-Goog-Message-Number", "3")
	resp, err := env.Router.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// No headers at all is still a 200.
	req = httptest.NewRequest(http.MethodPost, "/webhook", nil)
	resp, err = env.Router.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUnifiedEndpointLocalOnly(t *testing.T) {
	env := newTestEnv(t)
	user := seedLinkedUser(t, env.DB, "0912345678")
	seedSelection(t, env.DB, user.ID, "cal-1", "Work")
	token := loginToken(t, env, user)

	env.Provider.ListEventsFn = func(ctx context.Context, accessToken, calendarID string, from, to time.Time) (cal_fields.ChangeSet, error) {
		return cal_fields.ChangeSet{}, &cal_fields.TransientError{Status: 503}
	}

	from := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	resp := doRequest(t, env, http.MethodGet,
		"/unified?from="+from.Format(time.RFC3339)+"&to="+from.AddDate(0, 0, 7).Format(time.RFC3339)+"&include_external=false",
		token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if env.Provider.ListCalls != 0 {
		t.Errorf("local-only request hit the provider %d times", env.Provider.ListCalls)
	}
	body := decodeBody(t, resp)
	if body["degraded"] != false {
		t.Errorf("body = %v", body)
	}
	if body["include_external"] != false || body["include_local"] != true {
		t.Errorf("source flags = %v / %v", body["include_local"], body["include_external"])
	}
}

func TestSuggestTimesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.DB, "0912345678", "password-123")
	token := loginToken(t, env, user)

	from := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	resp := doRequest(t, env, http.MethodGet,
		"/suggest_times?from="+from.Format(time.RFC3339)+"&to="+from.Add(time.Hour).Format(time.RFC3339)+"&duration=30",
		token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	slots := body["slots"].([]interface{})
	if len(slots) != 2 {
		t.Errorf("slots = %v", slots)
	}

	resp = doRequest(t, env, http.MethodGet, "/suggest_times?duration=-5", token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad duration status = %d", resp.StatusCode)
	}
}
