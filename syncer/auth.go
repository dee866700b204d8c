package syncer

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/nawafid/taqwim/cal_fields"
)

// CreateUser registers a new taqwim user with mobile and password.
func (s *Service) CreateUser(c *fiber.Ctx) error {
	var user cal_fields.User
	if err := bindJSON(c, &user); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	user.SanitizeName()
	if err := user.HashPassword(); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "hash_failed", "message": err.Error()})
	}
	if err := s.Db.Create(&user).Error; err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "duplicate_mobile", "message": "mobile already registered"})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"user_id": user.ID, "mobile": user.Mobile})
}

type loginRequest struct {
	Mobile   string `json:"mobile" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies credentials and issues a jwt.
func (s *Service) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	user, err := cal_fields.GetUserByMobile(req.Mobile, s.Db)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "invalid_credentials", "message": "wrong mobile or password"})
	}
	if err := user.VerifyPassword(req.Password); err != nil {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "invalid_credentials", "message": "wrong mobile or password"})
	}
	token, err := s.Auth.GenerateJWT(user.ID, user.Mobile)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "jwt_failed", "message": err.Error()})
	}
	c.Set("Authorization", token)
	return c.Status(http.StatusOK).JSON(fiber.Map{"authorization": token, "user_id": user.ID, "mobile": user.Mobile})
}

// AddDeviceToken stores the caller's FCM registration token.
func (s *Service) AddDeviceToken(c *fiber.Ctx) error {
	mobile := getMobile(c)
	if mobile == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "unauthorized access"})
	}
	type data struct {
		Token string `json:"token" binding:"required"`
	}
	var req data
	if err := bindJSON(c, &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "bad_request", "message": err.Error()})
	}
	if err := cal_fields.UpsertDeviceToken(mobile, req.Token, s.Db); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"code": "db_error", "message": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(nil)
}

// Notifications lists the caller's stored notifications and marks them
// read.
func (s *Service) Notifications(c *fiber.Ctx) error {
	mobile := getMobile(c)
	if mobile == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": "unauthorized", "message": "unauthorized access"})
	}
	records, err := cal_fields.NotificationsByMobile(mobile, s.Db)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "database_error", "message": err.Error()})
	}
	if err := cal_fields.MarkNotificationsRead(mobile, s.Db); err != nil {
		s.Logger.WithError(err).Warn("marking notifications read failed")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"notifications": records})
}
