// Package whatsapp wraps the whatsmeow client so DengueCast can hold intake
// conversations over a linked WhatsApp account.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/DengueCast/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	// DefaultSQLitePath is the default whatsmeow device store
	DefaultSQLitePath = "/var/lib/denguecast/whatsmeow.db"
	// JIDSuffix is the WhatsApp server for regular user accounts
	JIDSuffix = types.DefaultUserServer
)

var (
	ErrNotConnected  = errors.New("whatsapp client not initialized")
	ErrEmptyReceiver = errors.New("recipient cannot be empty")
	ErrEmptyBody     = errors.New("message body cannot be empty")
)

// WhatsAppSender sends a text message to a phone number given as digits.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds the device store and login settings.
type Opts struct {
	DBDSN       string
	QRPath      string // where to write the login QR code; stdout when empty
	NumericCode bool   // print the raw pairing code instead of a QR code
}

// Option configures the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow device store DSN.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the pairing code as text.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client is a connected whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// storeDialect picks the sqlstore dialect for dsn. SQLite DSNs without foreign keys
// enabled get a warning since whatsmeow relies on cascading deletes.
func storeDialect(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	if !hasForeignKeys(dsn) {
		slog.Warn("WhatsApp device store: SQLite DSN does not enable foreign keys; add '?_foreign_keys=on'",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}
	return "sqlite3"
}

func hasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// NewClient opens the device store and connects. On first run it blocks on the
// QR login flow until the phone links or the code expires.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = DefaultSQLitePath
	}
	dialect := storeDialect(cfg.DBDSN)
	slog.Debug("WhatsApp NewClient: opening device store", "dialect", dialect)

	container, err := sqlstore.New(ctx, dialect, cfg.DBDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := login(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else if err := waClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}

	slog.Info("WhatsApp client connected")
	return &Client{waClient: waClient}, nil
}

func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to start WhatsApp login: %w", err)
	}
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		out = f
	}

	for evt := range qrChan {
		switch {
		case evt.Event == "code" && cfg.NumericCode:
			fmt.Fprintln(out, evt.Code)
		case evt.Event == "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		case evt.Event == "success":
			slog.Info("WhatsApp login succeeded")
		default:
			slog.Warn("WhatsApp login event", "event", evt.Event)
		}
	}
	if waClient.Store.ID == nil {
		return errors.New("whatsapp login did not complete")
	}
	return nil
}

// SendMessage sends body as a plain conversation message.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c == nil || c.waClient == nil || c.waClient.Store == nil {
		return ErrNotConnected
	}
	if to == "" {
		return ErrEmptyReceiver
	}
	if body == "" {
		return ErrEmptyBody
	}

	jid := types.NewJID(to, JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)}); err != nil {
		slog.Error("WhatsApp SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp SendMessage succeeded", "to", to, "body_length", len(body))
	return nil
}

// AddEventHandler registers h for whatsmeow events and returns its handle.
func (c *Client) AddEventHandler(h whatsmeow.EventHandler) uint32 {
	return c.waClient.AddEventHandler(h)
}

// RemoveEventHandler unregisters a handler added with AddEventHandler.
func (c *Client) RemoveEventHandler(id uint32) {
	c.waClient.RemoveEventHandler(id)
}

// Disconnect closes the websocket. The device stays linked.
func (c *Client) Disconnect() {
	if c != nil && c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// MockClient records sent messages instead of talking to WhatsApp.
type MockClient struct {
	Sent []SentMessage
	Err  error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}
