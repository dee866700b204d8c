package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/nawafid/taqwim/cal_fields"
)

func testAuth() *JWTAuth {
	auth := &JWTAuth{Config: cal_fields.TaqwimConfig{JWTKey: "test-secret"}}
	auth.Init()
	return auth
}

func TestGenerateAndVerifyJWT(t *testing.T) {
	auth := testAuth()

	token, err := auth.GenerateJWT(7, "0912345678")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := auth.VerifyJWT(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != 7 || claims.Mobile != "0912345678" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != "taqwim" {
		t.Errorf("issuer = %q", claims.Issuer)
	}
}

func TestVerifyJWTWrongKey(t *testing.T) {
	auth := testAuth()
	token, err := auth.GenerateJWT(1, "0912345678")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := &JWTAuth{Config: cal_fields.TaqwimConfig{JWTKey: "other-secret"}}
	other.Init()
	if _, err := other.VerifyJWT(token); err == nil {
		t.Error("token verified with wrong key")
	}
}

func TestAuthMiddleware(t *testing.T) {
	auth := testAuth()
	app := fiber.New()
	app.Get("/protected", auth.AuthMiddleware(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id"), "mobile": c.Locals("mobile")})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token status = %d", resp.StatusCode)
	}

	token, _ := auth.GenerateJWT(3, "0912345678")
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", token)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token status = %d", resp.StatusCode)
	}

	// Bearer prefix is accepted too.
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer token status = %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "garbage")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d", resp.StatusCode)
	}
}
