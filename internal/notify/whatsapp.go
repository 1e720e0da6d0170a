package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
)

type WhatsAppConfig struct {
	// DataDir holds the linked-device database.
	DataDir string
	CodeTTL time.Duration
	// QROut receives the pairing QR code on first start.
	QROut io.Writer
}

// WhatsApp sends passcodes from a linked WhatsApp account.
type WhatsApp struct {
	client *whatsmeow.Client
	cfg    WhatsAppConfig
	log    zerolog.Logger
}

func NewWhatsApp(ctx context.Context, cfg WhatsAppConfig, logger zerolog.Logger) (*WhatsApp, error) {
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s/whatsmeow.db?_foreign_keys=on", cfg.DataDir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create whatsapp store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get whatsapp device: %w", err)
	}

	w := &WhatsApp{
		client: whatsmeow.NewClient(deviceStore, nil),
		cfg:    cfg,
		log:    logger.With().Str("component", "notify").Str("provider", "whatsapp").Logger(),
	}
	w.client.AddEventHandler(w.handleEvent)
	return w, nil
}

// Connect logs in, printing a pairing QR code when the device is not linked
// yet. It returns once pairing finished or the stored session reconnected.
func (w *WhatsApp) Connect(ctx context.Context) error {
	if w.client.Store.ID != nil {
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect to whatsapp: %w", err)
		}
		return nil
	}

	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get whatsapp QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to whatsapp: %w", err)
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			w.printQR(evt.Code)
		case "success":
			w.log.Info().Msg("WhatsApp device linked")
		default:
			w.log.Info().Str("event", evt.Event).Msg("WhatsApp login event")
		}
	}
	return nil
}

func (w *WhatsApp) printQR(code string) {
	if w.cfg.QROut == nil {
		return
	}
	q, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w.cfg.QROut, "QR code: %s\n", code)
		return
	}
	fmt.Fprintln(w.cfg.QROut, q.ToSmallString(false))
	fmt.Fprintln(w.cfg.QROut, "Scan with WhatsApp: Settings > Linked Devices > Link a Device")
}

func (w *WhatsApp) Disconnect() {
	w.client.Disconnect()
}

func (w *WhatsApp) Send(ctx context.Context, to, code string) error {
	phone := strings.TrimPrefix(to, "+")

	resp, err := w.client.IsOnWhatsApp(ctx, []string{"+" + phone})
	if err != nil {
		return fmt.Errorf("failed to check whatsapp registration: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return fmt.Errorf("number ending %s is not on whatsapp", last4(phone))
	}

	message := FormatMessage(code, w.cfg.CodeTTL)
	sent, err := w.client.SendMessage(ctx, resp[0].JID, &waE2E.Message{
		Conversation: &message,
	})
	if err != nil {
		return fmt.Errorf("failed to send whatsapp message: %w", err)
	}

	w.log.Debug().Str("message_id", string(sent.ID)).Str("last4", last4(phone)).Msg("OTP message sent")
	return nil
}

func (w *WhatsApp) handleEvent(evt any) {
	switch evt.(type) {
	case *events.Connected:
		w.log.Info().Msg("Connected to WhatsApp")
	case *events.Disconnected:
		w.log.Warn().Msg("Disconnected from WhatsApp")
	case *events.LoggedOut:
		w.log.Error().Msg("Logged out from WhatsApp, the device must be linked again")
	}
}

func last4(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}
