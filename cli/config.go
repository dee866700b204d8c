package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	firebase "firebase.google.com/go/v4"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nawafid/taqwim/cal_fields"
	"github.com/nawafid/taqwim/gateway"
	"github.com/nawafid/taqwim/gcal"
	"github.com/nawafid/taqwim/syncer"
)

func isTestRun() bool {
	return strings.HasSuffix(os.Args[0], ".test")
}

func firstExistingPath(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfig reads config.yaml and, when present, overlays secrets.yaml
// on top of it. Tests run with an empty config and defaults.
func loadConfig() (cal_fields.TaqwimConfig, error) {
	var config cal_fields.TaqwimConfig

	configPath := firstExistingPath(os.Getenv("TAQWIM_CONFIG"), "./config.yaml", "../config.yaml")
	if configPath == "" {
		if isTestRun() {
			return config, nil
		}
		return config, errors.New("config.yaml not found")
	}
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return config, fmt.Errorf("read config: %w", err)
	}
	wrapper := struct {
		Taqwim cal_fields.TaqwimConfig `yaml:"taqwim"`
	}{}
	if err := yaml.Unmarshal(configData, &wrapper); err != nil {
		return config, fmt.Errorf("parse config yaml: %w", err)
	}
	config = wrapper.Taqwim

	secretsPath := firstExistingPath("./secrets.yaml", "../secrets.yaml")
	if secretsPath != "" {
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			return config, fmt.Errorf("read secrets: %w", err)
		}
		secrets := struct {
			Taqwim struct {
				JWTKey             string `yaml:"jwt_key"`
				GoogleClientID     string `yaml:"google_client_id"`
				GoogleClientSecret string `yaml:"google_client_secret"`
			} `yaml:"taqwim"`
		}{}
		if err := yaml.Unmarshal(secretsData, &secrets); err != nil {
			return config, fmt.Errorf("parse secrets yaml: %w", err)
		}
		if secrets.Taqwim.JWTKey != "" {
			config.JWTKey = secrets.Taqwim.JWTKey
		}
		if secrets.Taqwim.GoogleClientID != "" {
			config.GoogleClientID = secrets.Taqwim.GoogleClientID
		}
		if secrets.Taqwim.GoogleClientSecret != "" {
			config.GoogleClientSecret = secrets.Taqwim.GoogleClientSecret
		}
		logrusLogger.Printf("Loaded secrets from %s", secretsPath)
	}

	logrusLogger.Printf("Loaded config from %s", configPath)
	return config, nil
}

func getFirebase(credentialsPath string) (*firebase.App, error) {
	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing app: %v", err)
	}
	return app, nil
}

// GetMainEngine function responsible for getting all of our routes to be delivered for fiber
func GetMainEngine() *fiber.App {
	route := fiber.New()
	route.Use(gateway.RequestID())
	route.Use(gateway.RequestLogger(logrusLogger, logSampling))
	route.Use(gateway.Instrumentation())

	route.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	route.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{"message": true})
	})

	cal := route.Group("/calendar")
	{
		cal.Post("/register", wrapHandler(calendarService.CreateUser))
		cal.Post("/login", wrapHandler(calendarService.Login))
		cal.Get("/auth_url", wrapHandler(calendarService.AuthURL))

		// Google pushes here; authenticated by channel identity, not jwt.
		cal.Post("/webhook", wrapHandler(calendarService.Webhook))

		cal.Use(auth.AuthMiddleware())
		cal.Post("/link", wrapHandler(calendarService.LinkCalendar))
		cal.Post("/unlink", wrapHandler(calendarService.UnlinkCalendar))
		cal.Get("/status", wrapHandler(calendarService.LinkStatus))
		cal.Get("/calendars", wrapHandler(calendarService.ListProviderCalendars))
		cal.Get("/selections", wrapHandler(calendarService.GetSelections))
		cal.Put("/selections", wrapHandler(calendarService.PutSelections))
		cal.Get("/unified", wrapHandler(calendarService.UnifiedView))
		cal.Get("/suggest_times", wrapHandler(calendarService.SuggestTimes))
		cal.Post("/sync", wrapHandler(calendarService.Sync))
		cal.Post("/watch", wrapHandler(calendarService.StartWatchHandler))
		cal.Delete("/watch", wrapHandler(calendarService.StopWatchHandler))
		cal.Get("/events", wrapHandler(calendarService.GetEvents))
		cal.Post("/events", wrapHandler(calendarService.PostEvent))
		cal.Put("/events/:id", wrapHandler(calendarService.PutEvent))
		cal.Delete("/events/:id", wrapHandler(calendarService.DeleteEventHandler))
		cal.Get("/notifications", wrapHandler(calendarService.Notifications))
		cal.Post("/user/device", wrapHandler(calendarService.AddDeviceToken))
	}
	return route
}

func init() {
	var err error

	taqwimConfig, err = loadConfig()
	if err != nil {
		logrusLogger.Fatalf("error loading config: %v", err)
	}
	taqwimConfig.Defaults()
	configureLogger(taqwimConfig)

	dbpath := taqwimConfig.DatabasePath
	if isTestRun() {
		if tmp, err := os.CreateTemp("", "taqwim-test-*.db"); err == nil {
			dbpath = tmp.Name()
			_ = tmp.Close()
		}
	}
	logrusLogger.Printf("The final database file is: %#v", dbpath)
	database, err = gorm.Open(sqlite.Open(dbpath), &gorm.Config{})
	if err != nil {
		logrusLogger.Fatalf("error in connecting to db: %v", err)
	}
	if err := database.AutoMigrate(
		&cal_fields.User{},
		&cal_fields.CalendarAccount{},
		&cal_fields.CalendarSelection{},
		&cal_fields.SyncState{},
		&cal_fields.Event{},
		&cal_fields.PushDataRecord{},
	); err != nil {
		logrusLogger.Fatalf("error in migrations: %v", err)
	}

	redisClient = redis.NewClient(&redis.Options{Addr: taqwimConfig.RedisPort})

	if taqwimConfig.FirebaseCredentials != "" {
		firebaseApp, err = getFirebase(taqwimConfig.FirebaseCredentials)
		if err != nil {
			logrusLogger.Printf("firebase unavailable, push disabled: %v", err)
			firebaseApp = nil
		}
	}

	auth = gateway.JWTAuth{Config: taqwimConfig}
	auth.Init()

	provider := gcal.NewClient(taqwimConfig, logrusLogger)
	calendarService = syncer.NewService(database, redisClient, taqwimConfig, logrusLogger, firebaseApp, &auth, provider)
}
