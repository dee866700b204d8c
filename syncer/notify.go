package syncer

import (
	"context"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"

	"github.com/nawafid/taqwim/cal_fields"
)

const (
	pushQueueSize   = 256
	pushWorkers     = 2
	pushMaxAttempts = 3
)

// PushTask is one queued notification with its retry state.
type PushTask struct {
	Record    cal_fields.PushDataRecord
	Attempts  int
	NextRetry time.Time
}

// Pusher is the bounded notification queue. Tasks persist to the
// database before delivery so the user can list them even if FCM is
// down; delivery retries with backoff and gives up after a few tries.
type Pusher struct {
	service *Service
	tasks   chan PushTask
}

func newPusher(s *Service) *Pusher {
	return &Pusher{service: s, tasks: make(chan PushTask, pushQueueSize)}
}

// Start launches the delivery workers. Returns immediately; workers
// exit when ctx is cancelled.
func (p *Pusher) Start(ctx context.Context) {
	for i := 0; i < pushWorkers; i++ {
		go p.worker(ctx)
	}
}

// Enqueue stores the record and queues it for delivery. A full queue
// drops delivery but keeps the stored record.
func (p *Pusher) Enqueue(record cal_fields.PushDataRecord) {
	if record.UUID == "" {
		record.UUID = uuid.NewString()
	}
	if err := p.service.Db.Create(&record).Error; err != nil {
		p.service.Logger.WithError(err).Error("storing notification failed")
		return
	}
	select {
	case p.tasks <- PushTask{Record: record}:
	default:
		p.service.Logger.WithField("uuid", record.UUID).Warn("push queue full, notification stored but not delivered")
	}
}

func (p *Pusher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			if wait := time.Until(task.NextRetry); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
			if err := p.deliver(ctx, task.Record); err != nil {
				task.Attempts++
				if task.Attempts >= pushMaxAttempts {
					p.service.Logger.WithError(err).WithField("uuid", task.Record.UUID).Error("notification dropped after retries")
					continue
				}
				task.NextRetry = time.Now().Add(time.Duration(task.Attempts) * 30 * time.Second)
				select {
				case p.tasks <- task:
				default:
					p.service.Logger.WithField("uuid", task.Record.UUID).Warn("push queue full, retry dropped")
				}
			}
		}
	}
}

// deliver sends one FCM message. Without a firebase app or device
// token there is nothing to do, the stored record is all the user gets.
func (p *Pusher) deliver(ctx context.Context, record cal_fields.PushDataRecord) error {
	if p.service.FirebaseApp == nil {
		p.service.Logger.WithField("uuid", record.UUID).Debug("firebase disabled, notification stored only")
		return nil
	}
	if record.To == "" {
		p.service.Logger.WithField("mobile", record.UserMobile).Debug("no device token, notification stored only")
		return nil
	}
	client, err := p.service.FirebaseApp.Messaging(ctx)
	if err != nil {
		return err
	}
	message := &messaging.Message{
		Token:        record.To,
		Notification: &messaging.Notification{Title: record.Title, Body: record.Body},
		Data: map[string]string{
			"kind": record.Kind,
			"uuid": record.UUID,
		},
	}
	_, err = client.Send(ctx, message)
	return err
}
