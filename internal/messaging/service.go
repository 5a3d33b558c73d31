// Package messaging connects chat transports to intake sessions.
//
// A Service delivers and receives text on one transport. The ResponseHandler reads
// inbound messages from a Service, runs them through the session manager and sends
// the assistant's replies back on the same Service.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/DengueCast/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an event waits for a full channel before it is dropped
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted canonical phone number
	MinPhoneDigits = 6
)

var (
	ErrServiceStopped = errors.New("messaging service stopped")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
)

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service is a pluggable chat transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the canonical form of a phone number.
	// The canonical form is also the session ID for that conversation.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop ends background processing and closes the event channels.
	Stop() error

	// Receipts returns a channel of delivery events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound messages.
	Responses() <-chan models.Response
}

// CanonicalPhone strips every non-digit from number ("whatsapp:+880 17-11" -> "8801711").
func CanonicalPhone(number string) (string, error) {
	if number == "" {
		return "", ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(number, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", number)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}
