package cal_fields

import "gorm.io/gorm"

// Push notification kinds.
const (
	PushKindReauth = "reauth_required"
	PushKindSync   = "sync"
)

// PushDataRecord stores notification data in the database. The in-flight
// retry state (attempt count, next retry) lives on the queue task, not
// here: this row is the durable record the user can list later.
type PushDataRecord struct {
	gorm.Model
	UUID       string `json:"uuid"`
	Kind       string `json:"kind"`
	To         string `json:"to"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	UserMobile string `json:"user_mobile"`
	IsRead     bool   `json:"is_read"`
}

// NotificationsByMobile lists a user's stored notifications, newest first.
func NotificationsByMobile(mobile string, db *gorm.DB) ([]PushDataRecord, error) {
	var records []PushDataRecord
	err := db.Where("user_mobile = ?", mobile).Order("created_at desc").Find(&records).Error
	return records, err
}

// MarkNotificationsRead flags everything for the mobile as read.
func MarkNotificationsRead(mobile string, db *gorm.DB) error {
	return db.Model(&PushDataRecord{}).Where("user_mobile = ?", mobile).
		Update("is_read", true).Error
}
