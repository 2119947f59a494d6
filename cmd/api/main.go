package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/captcha"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/config"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity/otp"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity/twilioverify"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/loginform"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/router"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/submission"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/submission/repo"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/web"
	"github.com/ovaphlow/pitchfork/service-phone-form/pkg/database"
	"github.com/ovaphlow/pitchfork/service-phone-form/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-phone-form")

	cfg, err := config.FromEnv()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// record store is optional
	var (
		sqlxDB  *sqlx.DB
		records loginform.RecordStore
		history web.History
	)
	if dbCfg := database.ConfigFromEnv(); dbCfg.Enabled {
		sqlxDB, err = database.Connect(dbCfg)
		if err != nil {
			sugar.Fatalf("db connect: %v", err)
		}
		defer sqlxDB.Close()
		subRepo := repo.NewSubmissionRepo(sqlxDB)
		if err := subRepo.EnsureTable(ctx); err != nil {
			sugar.Fatalf("db migrate: %v", err)
		}
		svc := submission.NewService(subRepo, sugar)
		records, history = svc, svc
	} else {
		sugar.Info("record store disabled")
	}

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			sugar.Warnw("redis ping failed", "addr", cfg.RedisAddr, "err", err)
		}
		cancel()
	}

	backend, err := newBackend(cfg, rdb, sugar)
	if err != nil {
		sugar.Fatalf("identity backend: %v", err)
	}

	var verifier captcha.Verifier = captcha.AllowAll{}
	if !cfg.CaptchaDisabled {
		verifier = captcha.NewSiteVerifier(cfg.RecaptchaSecret, captcha.DefaultSiteVerifyURL, sugar)
	} else {
		sugar.Warn("captcha verification disabled")
	}

	tokens, err := identity.NewTokenIssuer(cfg.IDTokenSecret, "service-phone-form", cfg.IDTokenTTL)
	if err != nil {
		sugar.Fatalf("id tokens: %v", err)
	}

	sessions := web.NewSessions(web.SessionConfig{
		Backend:  backend,
		Verifier: verifier,
		Tokens:   tokens,
		Records:  records,
		Options: loginform.Options{
			CountryCode: cfg.CountryCode,
			FormURL:     cfg.FormURL,
			PhoneCheck:  cfg.PhoneCheck,
		},
		TTL:             cfg.SessionTTL,
		CaptchaDisabled: cfg.CaptchaDisabled,
	}, sugar)
	go sessions.Run(ctx, time.Minute)

	// mount http server
	form := web.NewHandler(sessions, tokens, history, web.HandlerOptions{
		SiteKey:    cfg.RecaptchaSiteKey,
		TrustProxy: cfg.TrustProxy,
	}, sugar)
	handler := router.RegisterRoutes(sugar, form, router.Options{
		FormOrigin: origin(cfg.FormURL),
		Redis:      rdb,
		RateLimit:  cfg.RateLimit,
		RateWindow: cfg.RateWindow,
		TrustProxy: cfg.TrustProxy,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTPAddr, "backend", cfg.IdentityBackend, "phone_check", cfg.PhoneCheck)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sessions.Close()

	sugar.Info("goodbye")
}

func newBackend(cfg config.Config, rdb redis.UniversalClient, logger *zap.SugaredLogger) (identity.Backend, error) {
	if cfg.IdentityBackend == config.BackendTwilio {
		return twilioverify.New(twilioverify.Config{
			AccountSid: cfg.TwilioAccountSid,
			AuthToken:  cfg.TwilioAuthToken,
			ServiceSid: cfg.TwilioServiceSid,
		}, logger)
	}

	var store otp.CodeStore = otp.NewMemoryStore()
	if rdb != nil {
		store = otp.NewRedisStore(rdb, "form:otp")
	}
	var sender otp.Sender = otp.NewLogSender(logger)
	if cfg.SMSEnabled() {
		s, err := otp.NewTwilioSender(cfg.TwilioAccountSid, cfg.TwilioAuthToken, cfg.TwilioFrom)
		if err != nil {
			return nil, err
		}
		sender = s
	} else {
		logger.Warn("no SMS sender configured, verification codes are only logged")
	}
	return otp.New(otp.DefaultConfig(), store, sender, logger), nil
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
