// Command rsvpctl runs maintenance tasks against the RSVP database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/AlexTLDR/rsvp/internal/config"
	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/otp"
	"github.com/AlexTLDR/rsvp/internal/utils"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const usage = `Usage: rsvpctl <command> [flags]

Commands:
  migrate             apply database migrations
  normalize-phones    rewrite household phones in E.164 form
  unlock              lift an OTP lockout (--household ID)
  purge-otps          delete passcodes that expired before --older-than ago
`

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:], logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Fatal().Err(err).Msg("rsvpctl failed")
	}
}

func run(ctx context.Context, args []string, logger zerolog.Logger) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	command, args := args[0], args[1:]

	flagSet := pflag.NewFlagSet("rsvpctl "+command, pflag.ContinueOnError)
	dryRun := flagSet.Bool("dry-run", false, "report changes without writing them")
	household := flagSet.String("household", "", "household ID")
	olderThan := flagSet.Duration("older-than", 24*time.Hour, "age past expiry before a passcode is purged")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var claims *otp.RedisGuard
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		claims = otp.NewRedisGuard(rdb)
	}

	switch command {
	case "migrate":
		if err := db.Migrate(); err != nil {
			return err
		}
		logger.Info().Msg("Migrations applied")
		return nil
	case "normalize-phones":
		return normalizePhones(ctx, db, claims, cfg.DefaultRegion, *dryRun, logger)
	case "unlock":
		if *household == "" {
			return errors.New("--household is required")
		}
		if err := db.UnlockHousehold(ctx, *household); err != nil {
			return err
		}
		if err := releaseClaim(ctx, claims, *household); err != nil {
			return err
		}
		logger.Info().Str("household_id", *household).Msg("Household unlocked")
		return nil
	case "purge-otps":
		n, err := db.PurgeOTPs(ctx, time.Now().Add(-*olderThan))
		if err != nil {
			return err
		}
		logger.Info().Int64("deleted", n).Msg("Expired passcodes purged")
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// releaseClaim drops the household's Redis cooldown claim, if Redis is in
// use, so a code can be requested right after an unlock or phone change.
func releaseClaim(ctx context.Context, claims *otp.RedisGuard, householdID string) error {
	if claims == nil {
		return nil
	}
	return claims.Release(ctx, householdID)
}

// normalizePhones rewrites every household phone that is not already in
// E.164 form. Changing a phone voids the household's outstanding codes.
func normalizePhones(ctx context.Context, db *database.DB, claims *otp.RedisGuard, region string, dryRun bool, logger zerolog.Logger) error {
	households, err := db.ListHouseholds(ctx)
	if err != nil {
		return err
	}

	logger.Info().Int("households", len(households)).Msg("Normalizing phones")

	updated, failed := 0, 0
	for _, hh := range households {
		normalized, err := utils.NormalizePhoneNumber(hh.Phone, region)
		if err != nil {
			logger.Warn().Err(err).Str("household_id", hh.ID).Str("phone", hh.Phone).Msg("Failed to normalize phone")
			failed++
			continue
		}

		// Only update if the phone number changed
		if normalized == hh.Phone {
			continue
		}
		if !dryRun {
			if _, err := db.UpdateHouseholdPhone(ctx, hh.ID, normalized); err != nil {
				logger.Error().Err(err).Str("household_id", hh.ID).Msg("Failed to update phone")
				failed++
				continue
			}
			if err := releaseClaim(ctx, claims, hh.ID); err != nil {
				logger.Warn().Err(err).Str("household_id", hh.ID).Msg("Failed to release OTP cooldown claim")
			}
		}
		logger.Info().Str("household_id", hh.ID).Str("from", hh.Phone).Str("to", normalized).Bool("dry_run", dryRun).Msg("Phone normalized")
		updated++
	}

	logger.Info().
		Int("total", len(households)).
		Int("updated", updated).
		Int("failed", failed).
		Int("unchanged", len(households)-updated-failed).
		Msg("Summary")
	return nil
}
