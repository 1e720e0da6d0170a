// Package notify delivers one-time passcodes to a household's phone.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const defaultCodeTTL = 10 * time.Minute

// Gateway sends a passcode to an E.164 destination. Implementations must
// honor ctx cancellation; the caller bounds every call with a timeout.
type Gateway interface {
	Send(ctx context.Context, to, code string) error
}

// Func adapts a plain function to a Gateway.
type Func func(ctx context.Context, to, code string) error

func (f Func) Send(ctx context.Context, to, code string) error {
	return f(ctx, to, code)
}

// FormatMessage renders the text sent to the guest.
func FormatMessage(code string, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	minutes := int(ttl / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Your RSVP code is %s. It expires in %d %s.", code, minutes, unit)
}

// Log writes the message to the logger instead of delivering it. It exists
// for local development and is refused by the production config.
type Log struct {
	logger  zerolog.Logger
	codeTTL time.Duration
}

func NewLog(logger zerolog.Logger, codeTTL time.Duration) *Log {
	return &Log{
		logger:  logger.With().Str("component", "notify").Str("provider", "log").Logger(),
		codeTTL: codeTTL,
	}
}

func (l *Log) Send(ctx context.Context, to, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Info().Str("to", to).Str("message", FormatMessage(code, l.codeTTL)).Msg("OTP message")
	return nil
}
