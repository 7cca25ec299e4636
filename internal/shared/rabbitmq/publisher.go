package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"tableside/internal/ports"
	"tableside/internal/shared/contracts"
)

// EventPublisher implements ports.EventPublisher on the resilient Client.
// Services call it only after their transaction committed.
type EventPublisher struct {
	Client *Client
}

var _ ports.EventPublisher = (*EventPublisher)(nil)

func (p *EventPublisher) Publish(_ context.Context, event contracts.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return p.Client.PublishMessage(event.RoutingKey(), body)
}
