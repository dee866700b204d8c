package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"github.com/nawafid/taqwim/cal_fields"
)

// JWTAuth provides an encapsulation for jwt auth.
type JWTAuth struct {
	Key    []byte
	Config cal_fields.TaqwimConfig
}

// TokenClaims taqwim standard claim.
type TokenClaims struct {
	UserID uint   `json:"user_id"`
	Mobile string `json:"mobile"`
	jwt.StandardClaims
}

// Init initializes jwt auth from config, falling back to a random key.
// A random key means tokens don't survive restarts; fine for dev.
func (j *JWTAuth) Init() {
	if j.Config.JWTKey != "" {
		j.Key = []byte(j.Config.JWTKey)
		return
	}
	j.Key = []byte(uuid.NewString())
}

// GenerateJWT issues an HS256 token for the user.
func (j *JWTAuth) GenerateJWT(userID uint, mobile string) (string, error) {
	if len(j.Key) == 0 {
		return "", errors.New("empty jwt key")
	}
	claims := TokenClaims{
		UserID: userID,
		Mobile: mobile,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(3 * time.Hour).UTC().Unix(),
			Issuer:    "taqwim",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Key)
}

// VerifyJWT validates a token string against TokenClaims.
func (j *JWTAuth) VerifyJWT(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Key, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("token is invalid")
}

// AuthMiddleware is a JWT authorization middleware used by the calendar
// routes. It stores user_id and mobile in fiber locals on success.
func (j *JWTAuth) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get("Authorization"))
		raw = strings.TrimPrefix(raw, "Bearer ")
		if raw == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "missing authorization token"})
		}
		claims, err := j.VerifyJWT(raw)
		if err != nil {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "invalid authorization token"})
		}
		c.Locals("user_id", claims.UserID)
		c.Locals("mobile", claims.Mobile)
		return c.Next()
	}
}
