package cal_fields

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User contains the taqwim user table. Kept deliberately small: taqwim's
// job is calendar mirroring, not identity management.
type User struct {
	gorm.Model
	Mobile   string `json:"mobile" gorm:"index:idx_mobile,unique" binding:"required"`
	Email    string `json:"email"`
	Fullname string `json:"fullname"`
	Password string `json:"password" binding:"required,min=8"`
	// DeviceID is the FCM registration token push notifications go to.
	DeviceID string `json:"device_id"`

	Account    *CalendarAccount    `json:"account,omitempty"`
	Selections []CalendarSelection `json:"selections,omitempty"`
	Events     []Event             `json:"events,omitempty"`
}

// GetUserByMobile retrieves a user from the database by mobile.
func GetUserByMobile(mobile string, db *gorm.DB) (User, error) {
	var user User
	if result := db.First(&user, "mobile = ?", strings.ToLower(mobile)); errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return user, errors.New("user not found")
	}
	return user, nil
}

// GetUserByID retrieves a user by primary key.
func GetUserByID(id uint, db *gorm.DB) (User, error) {
	var user User
	err := db.First(&user, id).Error
	return user, err
}

func (u *User) SanitizeName() {
	u.Mobile = strings.ToLower(strings.TrimSpace(u.Mobile))
}

func (u *User) HashPassword() error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), 8)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

// VerifyPassword checks a plaintext password against the stored hash.
func (u *User) VerifyPassword(raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(raw))
}

// UpsertDeviceToken stores the FCM registration token for a user.
func UpsertDeviceToken(mobile, token string, db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mobile"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"device_id": token}),
	}).Create(&User{Mobile: mobile, DeviceID: token}).Error
}
