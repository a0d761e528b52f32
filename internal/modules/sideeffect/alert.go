// README: RabbitMQ alert publisher for side effects that exhausted their retries.
package sideeffect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"carpool/internal/types"
)

type alertMessage struct {
	TaskID    string    `json:"task_id"`
	Kind      Kind      `json:"kind"`
	CarpoolID types.ID  `json:"carpool_id"`
	UserID    types.ID  `json:"user_id,omitempty"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

type RabbitAlerter struct {
	ch       *amqp.Channel
	exchange string
}

// NewRabbitAlerter opens a channel and declares the durable topic exchange.
func NewRabbitAlerter(conn *amqp.Connection, exchange string) (*RabbitAlerter, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitAlerter{ch: ch, exchange: exchange}, nil
}

// Alert publishes under the routing key sideeffect.<kind>.
func (a *RabbitAlerter) Alert(ctx context.Context, t Task, cause error) error {
	body, err := json.Marshal(alertMessage{
		TaskID:    t.ID,
		Kind:      t.Kind,
		CarpoolID: t.CarpoolID,
		UserID:    t.UserID,
		Attempts:  t.Attempt,
		Error:     cause.Error(),
		At:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	return a.ch.PublishWithContext(ctx, a.exchange, "sideeffect."+string(t.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    t.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (a *RabbitAlerter) Close() error {
	return a.ch.Close()
}
