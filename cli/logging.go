package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nawafid/taqwim/cal_fields"
	"github.com/nawafid/taqwim/gateway"
)

const (
	defaultLogSamplingTick  = 5 * time.Second
	defaultLogSamplingAfter = 2 * time.Second
)

func configureLogger(cfg cal_fields.TaqwimConfig) {
	logrusLogger.Out = os.Stderr
	if cfg.Debug {
		logrusLogger.SetLevel(logrus.DebugLevel)
		logrusLogger.SetReportCaller(true)
	} else {
		logrusLogger.SetLevel(logrus.InfoLevel)
		logrusLogger.SetReportCaller(false)
	}
	logrusLogger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	logSampling = gateway.LogSamplingConfig{
		Tick:  defaultLogSamplingTick,
		After: defaultLogSamplingAfter,
	}
}
