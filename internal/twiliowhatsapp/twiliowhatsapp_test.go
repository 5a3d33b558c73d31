package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"sort"
	"testing"
)

func TestAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"8801711000000", "whatsapp:+8801711000000"},
		{"+8801711000000", "whatsapp:+8801711000000"},
		{"whatsapp:+14155238886", "whatsapp:+14155238886"},
		{" whatsapp:14155238886 ", "whatsapp:+14155238886"},
	}
	for _, tt := range tests {
		if got := Address(tt.in); got != tt.want {
			t.Errorf("Address(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewClientRequiresSettings(t *testing.T) {
	if _, err := NewClient(WithFromNumber("+1415")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); !errors.Is(err, ErrMissingFromNumber) {
		t.Errorf("expected ErrMissingFromNumber, got %v", err)
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromNumber("14155238886"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.from != "whatsapp:+14155238886" {
		t.Errorf("from = %q", c.from)
	}
}

// sign computes a Twilio signature: base64(HMAC-SHA1(url + sorted key/value pairs)).
func sign(token, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := url
	for _, k := range keys {
		data += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignatureValidator(t *testing.T) {
	const url = "https://bot.example.org/twilio/webhook"
	params := map[string]string{"From": "whatsapp:+8801711000000", "Body": "hi", "MessageSid": "SM1"}
	v := NewSignatureValidator("secret", url)

	if !v.Valid(params, sign("secret", url, params)) {
		t.Errorf("expected valid signature")
	}
	if v.Valid(params, sign("other", url, params)) {
		t.Errorf("signature with wrong token should be rejected")
	}
	if v.Valid(params, "") {
		t.Errorf("empty signature should be rejected")
	}
}

func TestMockClient(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].Body != "Hello Test" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}

	mock.Err = errors.New("boom")
	if err := mock.SendMessage(ctx, "12345", "again"); err == nil {
		t.Errorf("expected configured error")
	}
}
