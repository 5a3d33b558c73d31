package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/DengueCast/internal/models"
	"github.com/BTreeMap/DengueCast/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

var _ Service = (*WhatsAppService)(nil)

// eventClient is a mock sender that also exposes an event source.
type eventClient struct {
	*whatsapp.MockClient
	handler whatsmeow.EventHandler
	removed bool
}

func (c *eventClient) AddEventHandler(h whatsmeow.EventHandler) uint32 {
	c.handler = h
	return 1
}

func (c *eventClient) RemoveEventHandler(id uint32) { c.removed = true }

func textMessage(from, id, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID(from, types.DefaultUserServer)},
			ID:            types.MessageID(id),
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+8801711000000", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mockClient.Sent) != 1 || mockClient.Sent[0].To != "8801711000000" {
		t.Fatalf("unexpected sends: %+v", mockClient.Sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "8801711000000" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_IncomingMessages(t *testing.T) {
	client := &eventClient{MockClient: whatsapp.NewMockClient()}
	svc := NewWhatsAppService(client)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if client.handler == nil {
		t.Fatal("Start should subscribe to events")
	}

	client.handler(textMessage("8801711000000", "ABC", "hi"))
	select {
	case resp := <-svc.Responses():
		if resp.From != "8801711000000" || resp.Body != "hi" || resp.ID != "ABC" || resp.Time != 1700000000 {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Fatal("expected forwarded response")
	}

	fromMe := textMessage("8801711000000", "DEF", "echo")
	fromMe.Info.IsFromMe = true
	client.handler(fromMe)
	group := textMessage("8801711000000", "GHI", "group")
	group.Info.IsGroup = true
	client.handler(group)
	media := textMessage("8801711000000", "JKL", "")
	media.Message = &waE2E.Message{}
	client.handler(media)
	select {
	case resp := <-svc.Responses():
		t.Errorf("unexpected response %+v", resp)
	default:
	}

	client.handler(&events.Receipt{
		MessageSource: types.MessageSource{Sender: types.NewJID("8801711000000", types.DefaultUserServer)},
		Type:          types.ReceiptTypeRead,
		Timestamp:     time.Unix(1700000001, 0),
	})
	select {
	case r := <-svc.Receipts():
		if r.Status != models.MessageStatusRead || r.To != "8801711000000" {
			t.Errorf("unexpected receipt %+v", r)
		}
	default:
		t.Fatal("expected read receipt")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !client.removed {
		t.Errorf("Stop should remove the event handler")
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Errorf("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Errorf("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "8801711000000", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
