package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/cloudinary"
	"qrattend/internal/config"
	"qrattend/internal/directory"
	"qrattend/internal/httpapi"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logging"
	"qrattend/internal/notification"
	"qrattend/internal/queue"
	"qrattend/internal/report"
	"qrattend/internal/roster"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	host, _ := os.Hostname()
	logger := logging.New(nil, cfg.RollbarToken, cfg.Env, host)
	defer logger.Close()

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", err, nil)
		logger.Close()
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(ctx, db.Client); err != nil {
		return err
	}

	var rdb *store.Redis
	if cfg.RedisEnabled {
		if rdb, err = store.OpenRedis(ctx, cfg.RedisAddr); err != nil {
			return err
		}
		defer rdb.Close()
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" && rdb != nil {
		q = queue.NewRedisQueue(rdb.Client, queue.DefaultKey)
	} else {
		if cfg.QueueBackend == "redis" {
			logger.Warnf("QUEUE_BACKEND=redis but redis is disabled; using in-memory queue")
		}
		mem := queue.NewInMemory(64)
		messages, _ := mem.Consume(ctx)
		go notification.Dispatch(ctx, messages, newMailer(cfg, logger), logger)
		q = mem
	}

	hub := roster.NewHub(32)
	var publisher roster.Publisher = hub
	if rdb != nil {
		bridge := roster.NewRedisBridge(rdb.Client, hub, roster.DefaultChannel)
		publisher = bridge
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("roster bridge stopped", err, nil)
			}
		}()
	}

	dir := directory.NewService(directory.NewRepository(db.Client))
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if _, created, err := dir.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		} else if created {
			logger.Infof("created admin account %s", cfg.AdminEmail)
		}
	}

	issuer := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	sessions := session.NewService(session.NewRepository(db.Client), dir, cfg.PublicBaseURL, cfg.SessionCacheTTL)
	records := attendance.NewRepository(db.Client)
	inbox := notification.NewService(notification.NewRepository(db.Client))
	loc := cfg.Location()

	deps := attendance.Deps{
		Validator: attendance.NewValidator(sessions, dir, records, cfg.GeofenceRadiusM),
		Repo:      records,
		Classes:   dir,
		Notifier:  inbox,
		Queue:     q,
		Events:    publisher,
		Log:       logger,
		LateAfter: cfg.LateAfter,
	}
	if cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder); cdn.Configured() {
		deps.Signatures = cdn
		logger.Infof("cloudinary configured: %s", cfg.CloudinaryCloudName)
	} else {
		logger.Infof("cloudinary not configured; signatures are stored inline")
	}

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, func(c *gin.Context) string {
		if claims, ok := auth.ClaimsFrom(c); ok && claims.Subject != "" {
			return "user:" + claims.Subject
		}
		return httpmiddleware.ClientIP(c)
	})

	reports := report.NewService(dir, sessions, records, loc, cfg.LateAfter)
	reports.SetTransactor(report.SQLTransactor(db.Client, dir, sessions, records))

	router := httpapi.NewRouter(httpapi.Deps{
		Auth:          auth.NewService(dir, issuer, auth.NewRepository(db.Client)),
		Tokens:        issuer,
		Directory:     dir,
		Sessions:      sessions,
		Attendance:    attendance.NewService(deps),
		Notifications: inbox,
		Reports:       reports,
		Roster:        publisher,
		Streamer:      roster.NewStreamer(hub, originChecker(cfg.CORSOrigins)),
		Limiter:       limiter,
		Log:           logger,
		CORSOrigins:   cfg.CORSOrigins,
		Location:      loc,
		Checks:        healthChecks(db, rdb),
	})

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: roster streams are long-lived
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Infof("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("server forced shutdown: %v", err)
	}
	logger.Infof("server exited")
	return nil
}

func healthChecks(db *store.DB, rdb *store.Redis) map[string]func(context.Context) bool {
	checks := map[string]func(context.Context) bool{"db": db.Healthy}
	if rdb != nil {
		checks["redis"] = rdb.Healthy
	}
	return checks
}

// originChecker allows websocket upgrades from the configured CORS origins,
// or from anywhere when none are configured.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(origins, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

func newMailer(cfg config.App, logger *logging.Logger) notification.Mailer {
	if cfg.SendGridAPIKey == "" {
		return notification.ConsoleMailer{Logger: logger.Std()}
	}
	return notification.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFromEmail)
}
