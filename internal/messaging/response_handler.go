package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DengueCast/internal/models"
	"github.com/BTreeMap/DengueCast/internal/session"
	"github.com/BTreeMap/DengueCast/internal/store"
)

// chatMarkup turns the inline <b> markup of assistant messages into WhatsApp bold.
var chatMarkup = strings.NewReplacer("<b>", "*", "</b>", "*")

// FormatForChat renders an assistant message for a WhatsApp chat.
func FormatForChat(text string) string {
	return chatMarkup.Replace(text)
}

// ResponseHandler routes inbound messages from one Service into intake sessions.
// Each sender's canonical phone number is its session ID, so a conversation
// survives across messages until it is ended or swept.
type ResponseHandler struct {
	msgService Service
	sessions   *session.Manager
	dedup      store.DedupRepo
	format     func(string) string
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithDedup drops inbound messages whose transport ID was already seen.
func WithDedup(repo store.DedupRepo) HandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = repo }
}

// WithFormatter replaces FormatForChat as the outbound renderer.
func WithFormatter(f func(string) string) HandlerOption {
	return func(rh *ResponseHandler) { rh.format = f }
}

// NewResponseHandler creates a handler for msgService backed by sessions.
func NewResponseHandler(msgService Service, sessions *session.Manager, opts ...HandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		msgService: msgService,
		sessions:   sessions,
		format:     FormatForChat,
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ProcessResponse runs one inbound message through the sender's session and sends
// every assistant turn back. A first contact also receives the intro message.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	req := models.MessageRequest{Text: response.Body}
	if err := req.Validate(); err != nil {
		slog.Warn("ResponseHandler ProcessResponse dropping message", "from", from, "error", err)
		return fmt.Errorf("invalid message from %s: %w", from, err)
	}

	if response.ID != "" && rh.dedup != nil {
		isNew, err := rh.dedup.RecordInbound(response.ID, from)
		if err != nil {
			slog.Error("ResponseHandler dedup check failed, processing anyway", "error", err, "messageID", response.ID)
		} else if !isNew {
			slog.Info("ResponseHandler skipping redelivered message", "from", from, "messageID", response.ID)
			return nil
		}
	}

	replies, err := rh.converse(ctx, from, response.Body)
	if err != nil {
		return err
	}
	for _, reply := range replies {
		if err := rh.msgService.SendMessage(ctx, from, rh.format(reply)); err != nil {
			slog.Error("ResponseHandler failed to send reply", "error", err, "from", from)
			return fmt.Errorf("failed to send reply: %w", err)
		}
	}

	if response.ID != "" && rh.dedup != nil {
		if err := rh.dedup.MarkProcessed(response.ID); err != nil {
			slog.Error("ResponseHandler MarkProcessed failed", "error", err, "messageID", response.ID)
		}
	}
	slog.Debug("ResponseHandler processed response", "from", from, "replies", len(replies))
	return nil
}

// converse returns the assistant messages produced by text. A session swept between
// Open and ProcessMessage is reopened once.
func (rh *ResponseHandler) converse(ctx context.Context, from, text string) ([]string, error) {
	for attempt := 0; ; attempt++ {
		snap, created, err := rh.sessions.Open(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("failed to open session: %w", err)
		}
		var replies []string
		if created {
			replies = append(replies, snap.Transcript[0].Content)
		}

		res, err := rh.sessions.ProcessMessage(ctx, from, text)
		if errors.Is(err, session.ErrSessionNotFound) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to process message: %w", err)
		}
		for _, turn := range res.TranscriptDelta {
			if turn.Role == models.RoleAssistant {
				replies = append(replies, turn.Content)
			}
		}
		return replies, nil
	}
}

// Start consumes the service's responses and receipts until ctx is done or the
// channels close. Messages are handled one at a time in arrival order.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	go func() {
		for {
			select {
			case receipt, ok := <-rh.msgService.Receipts():
				if !ok {
					return
				}
				slog.Debug("ResponseHandler receipt", "to", receipt.To, "status", receipt.Status)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer slog.Info("ResponseHandler stopped response processing")
		for {
			select {
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, response); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
				}
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}
