package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/db"
	"github.com/featherpost/publisher-go/pkg/delayqueue"
	"github.com/featherpost/publisher-go/pkg/dispatcher"
	"github.com/featherpost/publisher-go/pkg/handler"
	"github.com/featherpost/publisher-go/pkg/logging"
	"github.com/featherpost/publisher-go/pkg/mediaproc"
	"github.com/featherpost/publisher-go/pkg/mediastore"
	"github.com/featherpost/publisher-go/pkg/notify"
	"github.com/featherpost/publisher-go/pkg/platform"
	"github.com/featherpost/publisher-go/pkg/scheduler"
	"github.com/featherpost/publisher-go/pkg/server"
	"github.com/featherpost/publisher-go/pkg/store"
	"github.com/featherpost/publisher-go/pkg/vault"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Only log warning since .env is optional
		logrus.WithError(err).Warn("Error loading .env file")
	}

	// Initialize logger
	log := logrus.New()
	if os.Getenv("LOG_FORMAT") == "text" {
		log.SetFormatter(logging.NewColoredTextFormatter())
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.SetupDatabase(log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up database")
	}

	posts := store.NewPostStore(database, log)
	accounts := store.NewAccountStore(database, log)

	masterSecret := os.Getenv("VAULT_MASTER_SECRET")
	if masterSecret == "" {
		log.Fatal("VAULT_MASTER_SECRET is required")
	}
	cipher, err := vault.NewFieldCipher([]byte(masterSecret), "oauth-client-secret")
	if err != nil {
		log.WithError(err).Fatal("Failed to create field cipher")
	}

	platformCfg, err := platform.NewConfig(log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create platform config")
	}

	tokenURL := getEnvOrDefault("OAUTH_TOKEN_URL", "https://api.twitter.com/2/oauth2/token")
	credentials := vault.New(accounts, cipher, platformCfg, tokenURL, log)

	objects, err := mediastore.New(ctx, mediastore.Config{
		Bucket:    os.Getenv("MEDIA_BUCKET"),
		Prefix:    os.Getenv("MEDIA_PREFIX"),
		Region:    getEnvOrDefault("MEDIA_REGION", "us-east-1"),
		Endpoint:  os.Getenv("MEDIA_ENDPOINT"),
		AccessKey: os.Getenv("MEDIA_ACCESS_KEY"),
		SecretKey: os.Getenv("MEDIA_SECRET_KEY"),
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create media store")
	}

	queue, err := delayqueue.NewClient(&delayqueue.Config{
		APIBaseURL: os.Getenv("DELAYQUEUE_API_URL"),
		AuthToken:  os.Getenv("DELAYQUEUE_AUTH_TOKEN"),
		Logger:     log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create delay queue client")
	}

	verifier, err := delayqueue.NewVerifier(signingKeys(), 5*time.Minute)
	if err != nil {
		log.WithError(err).Fatal("Failed to create webhook verifier")
	}

	hub := notify.NewHub(log)
	go hub.Run()
	defer hub.Close()

	webhookURL := os.Getenv("PUBLISH_WEBHOOK_URL")
	if webhookURL == "" {
		log.Fatal("PUBLISH_WEBHOOK_URL is required")
	}
	sched := scheduler.New(posts, queue, webhookURL, log)

	resolver := mediaproc.NewProcessor(objects, log)
	disp := dispatcher.New(
		posts,
		clientProvider{credentials},
		resolver,
		objects,
		hub,
		verifier,
		dispatcher.NewRetryPolicy(log),
		log,
	)

	srv := server.New(server.Config{
		Addr: getEnvOrDefault("HTTP_ADDR", ":8080"),
	}, server.Handlers{
		Schedule: handler.NewScheduleHandler(sched, log),
		Media:    handler.NewMediaHandler(objects, log),
		Account:  handler.NewAccountHandler(accounts, log),
		WS:       handler.NewWSHandler(hub, log),
		Webhook:  disp.Handle,
	}, log)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Received shutdown signal")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.WithError(err).Error("HTTP shutdown failed")
		}
		cancel()
	}()

	log.Info("Starting publisher service")
	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("Server stopped with error")
	}
	log.Info("Server shutdown complete")
}

// clientProvider adapts the credential vault's concrete client to the
// dispatcher's interface.
type clientProvider struct {
	vault *vault.Vault
}

func (p clientProvider) ClientFor(ctx context.Context, userID, accountID uint) (dispatcher.PlatformClient, error) {
	return p.vault.ClientFor(ctx, userID, accountID)
}

// signingKeys reads the active webhook signing keys. Two entries let a key
// rotate without dropping in-flight deliveries.
func signingKeys() [][]byte {
	var keys [][]byte
	for _, env := range []string{"DELAYQUEUE_SIGNING_KEY", "DELAYQUEUE_SIGNING_KEY_NEXT"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			keys = append(keys, []byte(v))
		}
	}
	return keys
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
