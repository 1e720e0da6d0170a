package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlexTLDR/rsvp/internal/config"
	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/notify"
	"github.com/AlexTLDR/rsvp/internal/otp"
	"github.com/AlexTLDR/rsvp/internal/ratelimit"
	"github.com/AlexTLDR/rsvp/internal/rsvp"
	"github.com/AlexTLDR/rsvp/internal/server"
	"github.com/AlexTLDR/rsvp/internal/token"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	// Load .env file (ignore error if a file doesn't exist)
	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Production() {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database")
		}
	}()

	if err := db.Migrate(); err != nil {
		return err
	}

	var (
		limiter ratelimit.Limiter
		opts    = []otp.Option{otp.WithLogger(logger)}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimit, cfg.RateLimitWindow)
		opts = append(opts, otp.WithGuard(otp.NewRedisGuard(rdb)))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis for rate limits and OTP cooldown")
	} else {
		limiter = ratelimit.NewMemory(cfg.RateLimit, cfg.RateLimitWindow, nil)
	}

	gateway, closeGateway, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	pepper, err := token.DeriveKey(cfg.TokenSecret, token.LabelOTPPepper, 32)
	if err != nil {
		return err
	}
	hasher, err := otp.NewHasher(pepper)
	if err != nil {
		return err
	}

	codes, err := otp.NewManager(otp.Config{
		CodeTTL:     cfg.OTPTTL,
		Cooldown:    cfg.OTPCooldown,
		MaxAttempts: cfg.OTPMaxAttempts,
		Lockout:     cfg.OTPLockout,
		SendTimeout: cfg.NotifyTimeout,
	}, db, gateway, hasher, opts...)
	if err != nil {
		return err
	}

	codec, err := token.NewCodec(cfg.TokenFormat, cfg.TokenSecret, nil)
	if err != nil {
		return err
	}

	svc := rsvp.NewService(db, codes, token.NewIssuer(codec, nil), rsvp.Config{
		Deadline: cfg.RSVPDeadline,
		Logger:   logger,
	})

	srv := server.New(cfg, server.Deps{
		DB:      db,
		RSVP:    svc,
		OTP:     codes,
		Limiter: limiter,
		Logger:  logger,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info().Str("port", port).Str("env", cfg.Env).Str("notify", cfg.NotifyProvider).Msg("Starting server")
	return srv.Start(ctx, ":"+port)
}

// newGateway builds the configured passcode transport and its cleanup.
func newGateway(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notify.Gateway, func(), error) {
	switch cfg.NotifyProvider {
	case "twilio":
		g, err := notify.NewTwilio(notify.TwilioConfig{
			AccountSID:          cfg.TwilioAccountSID,
			AuthToken:           cfg.TwilioAuthToken,
			MessagingServiceSID: cfg.TwilioMessagingServiceSID,
			CodeTTL:             cfg.OTPTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return g, func() {}, nil
	case "whatsapp":
		g, err := notify.NewWhatsApp(ctx, notify.WhatsAppConfig{
			DataDir: cfg.WhatsAppDataDir,
			CodeTTL: cfg.OTPTTL,
			QROut:   os.Stdout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := g.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return g, g.Disconnect, nil
	default:
		logger.Warn().Msg("NOTIFY_PROVIDER=log: passcodes are written to the log")
		return notify.NewLog(logger, cfg.OTPTTL), func() {}, nil
	}
}
