// README: Firebase Cloud Messaging sender that resolves device tokens and multicasts a template.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"carpool/internal/types"
)

// Sender delivers a templated notification to users.
type Sender interface {
	Send(ctx context.Context, userIDs []types.ID, template string, data map[string]string) error
}

type TokenSource interface {
	DeviceTokens(ctx context.Context, ids []types.ID) ([]string, error)
}

// Multicaster is the subset of *messaging.Client used here.
type Multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

var ErrUndelivered = errors.New("notification not delivered to any device")

type FCMSender struct {
	client Multicaster
	tokens TokenSource
	log    *slog.Logger
}

func NewFCMSender(client Multicaster, tokens TokenSource, log *slog.Logger) *FCMSender {
	return &FCMSender{client: client, tokens: tokens, log: log}
}

// Send succeeds when at least one device accepted the message. Users without a
// registered device are skipped silently.
func (s *FCMSender) Send(ctx context.Context, userIDs []types.ID, template string, data map[string]string) error {
	if len(userIDs) == 0 {
		return nil
	}
	tokens, err := s.tokens.DeviceTokens(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("device tokens: %w", err)
	}
	if len(tokens) == 0 {
		s.log.Debug("no device tokens for recipients", "template", template, "recipients", len(userIDs))
		return nil
	}

	title, body := Render(template, data)
	payload := make(map[string]string, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["template"] = template

	resp, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         payload,
		Android:      &messaging.AndroidConfig{Priority: "high"},
	})
	if err != nil {
		return fmt.Errorf("fcm multicast: %w", err)
	}
	if resp.FailureCount > 0 {
		s.log.Warn("fcm partial failure", "template", template,
			"success", resp.SuccessCount, "failure", resp.FailureCount)
	}
	if resp.SuccessCount == 0 {
		return ErrUndelivered
	}
	return nil
}
