package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/DengueCast/internal/models"
	"github.com/BTreeMap/DengueCast/internal/twiliowhatsapp"
)

var _ Service = (*TwilioService)(nil)

func postWebhook(svc *TwilioService, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rr := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rr, req)
	return rr
}

func TestTwilioWebhookQueuesResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	form := url.Values{"From": {"whatsapp:+8801711000000"}, "Body": {"hi"}, "MessageSid": {"SM123"}}

	rr := postWebhook(svc, form, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q", ct)
	}

	select {
	case resp := <-svc.Responses():
		if resp.ID != "SM123" || resp.From != "whatsapp:+8801711000000" || resp.Body != "hi" {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Fatal("expected queued response")
	}
}

func TestTwilioWebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rr := postWebhook(svc, url.Values{"From": {"whatsapp:+8801711000000"}}, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestTwilioWebhookSignature(t *testing.T) {
	v := twiliowhatsapp.NewSignatureValidator("secret", "https://bot.example.org/twilio/webhook")
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidator(v))
	form := url.Values{"From": {"whatsapp:+8801711000000"}, "Body": {"hi"}}

	rr := postWebhook(svc, form, "bogus")
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestTwilioWebhookAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rr := postWebhook(svc, url.Values{"From": {"whatsapp:+8801711000000"}, "Body": {"hi"}}, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	if err := svc.SendMessage(context.Background(), "8801711000000", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioSendMessageEmitsReceipt(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendMessage(context.Background(), "whatsapp:+8801711000000", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "8801711000000" {
		t.Fatalf("unexpected sends %+v", sent)
	}
	r := <-svc.Receipts()
	if r.Status != models.MessageStatusSent {
		t.Errorf("unexpected receipt %+v", r)
	}
}

func TestTwilioWebhookDrivesSession(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	rh := NewResponseHandler(svc, newTestSessions(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rh.Start(ctx)

	rr := postWebhook(svc, url.Values{"From": {"whatsapp:+8801711000000"}, "Body": {"hi"}, "MessageSid": {"SM1"}}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(mock.Sent()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sent := mock.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected intro and reply, got %d messages", len(sent))
	}
	if !strings.HasPrefix(sent[1].Body, "👋 Hi! Which *year*") {
		t.Errorf("unexpected reply %q", sent[1].Body)
	}
}
