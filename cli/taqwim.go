package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nawafid/taqwim/cal_fields"
	"github.com/nawafid/taqwim/gateway"
	"github.com/nawafid/taqwim/syncer"
)

var taqwimConfig cal_fields.TaqwimConfig
var logrusLogger = logrus.New()
var database *gorm.DB
var redisClient *redis.Client
var firebaseApp *firebase.App
var auth gateway.JWTAuth
var calendarService *syncer.Service
var logSampling gateway.LogSamplingConfig

const watchRenewInterval = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	calendarService.Pusher.Start(ctx)
	go renewWatches(ctx)

	if taqwimConfig.Port == "" {
		taqwimConfig.Port = ":8080"
	}
	logrusLogger.Fatal(GetMainEngine().Listen(taqwimConfig.Port))
}

// renewWatches periodically re-registers push channels about to expire.
func renewWatches(ctx context.Context) {
	ticker := time.NewTicker(watchRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			calendarService.RenewExpiringWatches(ctx, 12*time.Hour)
		}
	}
}
