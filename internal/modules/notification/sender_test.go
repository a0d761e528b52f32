package notification

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"carpool/internal/logging"
	"carpool/internal/types"
)

type stubTokens map[types.ID]string

func (s stubTokens) DeviceTokens(_ context.Context, ids []types.ID) ([]string, error) {
	var out []string
	for _, id := range ids {
		if tok, ok := s[id]; ok {
			out = append(out, tok)
		}
	}
	return out, nil
}

type stubMulticaster struct {
	sent    []*messaging.MulticastMessage
	success int
	err     error
}

func (m *stubMulticaster) SendEachForMulticast(_ context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	m.sent = append(m.sent, msg)
	if m.err != nil {
		return nil, m.err
	}
	return &messaging.BatchResponse{SuccessCount: m.success, FailureCount: len(msg.Tokens) - m.success}, nil
}

func TestSendRendersTemplate(t *testing.T) {
	mc := &stubMulticaster{success: 2}
	s := NewFCMSender(mc, stubTokens{"r1": "t1", "r2": "t2"}, logging.Discard())

	err := s.Send(context.Background(), []types.ID{"r1", "r2", "r3"}, TemplateRideStarted,
		map[string]string{"carpool_id": "c1", "destination": "Office"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mc.sent) != 1 {
		t.Fatalf("expected one multicast, got %d", len(mc.sent))
	}
	msg := mc.sent[0]
	if len(msg.Tokens) != 2 || msg.Notification.Title != "Carpool started" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Data["template"] != TemplateRideStarted || msg.Data["carpool_id"] != "c1" {
		t.Fatalf("unexpected data payload: %v", msg.Data)
	}
}

func TestSendSkipsUsersWithoutDevices(t *testing.T) {
	mc := &stubMulticaster{}
	s := NewFCMSender(mc, stubTokens{}, logging.Discard())
	if err := s.Send(context.Background(), []types.ID{"r1"}, TemplateLegCanceled, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mc.sent) != 0 {
		t.Fatalf("no multicast expected without tokens")
	}
}

func TestSendFailures(t *testing.T) {
	ctx := context.Background()

	allFailed := NewFCMSender(&stubMulticaster{success: 0}, stubTokens{"r1": "t1"}, logging.Discard())
	if err := allFailed.Send(ctx, []types.ID{"r1"}, TemplateLegFinished, nil); !errors.Is(err, ErrUndelivered) {
		t.Fatalf("expected ErrUndelivered, got %v", err)
	}

	boom := errors.New("unavailable")
	broken := NewFCMSender(&stubMulticaster{err: boom}, stubTokens{"r1": "t1"}, logging.Discard())
	if err := broken.Send(ctx, []types.ID{"r1"}, TemplateLegFinished, nil); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	title, body := Render("something_else", nil)
	if title == "" || body == "" {
		t.Fatalf("unknown templates must still render")
	}
}
