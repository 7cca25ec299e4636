package notificationservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tableside/internal/shared/contracts"
	"tableside/internal/shared/logger"
	"tableside/internal/shared/rabbitmq"
)

// Options scope a subscriber to one store and, optionally, one table.
// StoreID 0 subscribes to every store.
type Options struct {
	StoreID int64
	TableID int64 // 0 means all tables
}

// bindingKey restricts delivery at the broker when a store is given;
// table filtering happens on the payload because the routing key only
// carries the store.
func (o Options) bindingKey() string {
	if o.StoreID > 0 {
		return "store." + strconv.FormatInt(o.StoreID, 10) + ".#"
	}
	return "store.#"
}

// ConsumeForever continuously (re)creates a channel, declares a private
// queue bound to the events exchange, and consumes until ctx is done.
func ConsumeForever(ctx context.Context, rmq *rabbitmq.Client, opts Options, log *logger.Logger) {
	const (
		prefetch       = 50
		retryBaseDelay = time.Second
		retryMaxDelay  = 30 * time.Second
	)

	backoff := retryBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ch, err := rmq.NewConsumerChannel(prefetch)
		if err != nil {
			log.Error(ctx, "rabbitmq_channel_open_failed", "Failed to open consumer channel", err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, retryMaxDelay)
			continue
		}

		backoff = retryBaseDelay

		deliveries, err := setupQueue(ch, opts)
		if err != nil {
			_ = ch.Close()
			log.Error(ctx, "rabbitmq_consume_failed", "Failed to start consuming order events", err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, retryMaxDelay)
			continue
		}

		closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	consumption:
		for {
			select {
			case <-ctx.Done():
				_ = ch.Close()
				return

			case amqpErr := <-closed:
				if amqpErr != nil {
					log.Error(ctx, "rabbitmq_channel_closed", "Consumer channel closed", amqpErr)
				} else {
					log.Error(ctx, "rabbitmq_channel_closed", "Consumer channel closed", errors.New("unknown channel close"))
				}
				break consumption

			case d, ok := <-deliveries:
				if !ok {
					log.Error(ctx, "rabbitmq_deliveries_closed", "Deliveries channel closed", errors.New("deliveries channel closed"))
					break consumption
				}
				handleDelivery(ctx, log, opts, d)
			}
		}

		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, retryMaxDelay)
	}
}

// setupQueue declares a server-named exclusive queue bound by store scope
// and starts consuming from it.
func setupQueue(ch *amqp.Channel, opts Options) (<-chan amqp.Delivery, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(q.Name, opts.bindingKey(), rabbitmq.EventsExchange, false, nil); err != nil {
		return nil, err
	}
	return ch.Consume(q.Name, "", false, true, false, false, nil)
}

// handleDelivery parses the order event JSON, applies the table filter, and
// prints a human-readable notification line.
func handleDelivery(ctx context.Context, log *logger.Logger, opts Options, d amqp.Delivery) {
	var event contracts.OrderEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		log.Error(ctx, "notification_decode_failed", "Failed to decode order event JSON", err)
		// malformed JSON cannot be recovered by redelivery; ack to drop it
		_ = d.Ack(false)
		return
	}

	// table grouping is a payload filter; the routing key only scopes stores
	if opts.TableID > 0 && (event.TableID == nil || *event.TableID != opts.TableID) {
		_ = d.Ack(false)
		return
	}

	log.Debug(ctx, "notification_received", "Received order event", map[string]any{
		"event_id":     event.EventID,
		"type":         event.Type,
		"store_id":     event.StoreID,
		"order_number": event.OrderNumber,
	})

	fmt.Println(renderHuman(event))

	if err := d.Ack(false); err != nil {
		log.Error(ctx, "rabbitmq_ack_failed", "Failed to ack order event", err)
	}
}

// renderHuman formats one notification line per event type.
func renderHuman(event contracts.OrderEvent) string {
	switch event.Type {
	case contracts.EventNewOrder:
		return fmt.Sprintf("Store %d: new order %s, %d item(s), total %.2f",
			event.StoreID, event.OrderNumber, len(event.Payload.Items), event.Payload.TotalAmount)
	case contracts.EventOrderUpdate:
		if event.Payload.ChangedBy != "" {
			return fmt.Sprintf("Store %d: order %s moved from '%s' to '%s' by %s",
				event.StoreID, event.OrderNumber, event.Payload.OldStatus, event.Payload.Status, event.Payload.ChangedBy)
		}
		return fmt.Sprintf("Store %d: order %s moved from '%s' to '%s'",
			event.StoreID, event.OrderNumber, event.Payload.OldStatus, event.Payload.Status)
	case contracts.EventItemUpdate:
		if len(event.Payload.Items) == 1 {
			it := event.Payload.Items[0]
			return fmt.Sprintf("Store %d: order %s item '%s' is now '%s'",
				event.StoreID, event.OrderNumber, it.Name, it.Status)
		}
	}
	return fmt.Sprintf("Store %d: order %s event '%s'", event.StoreID, event.OrderNumber, event.Type)
}

// sleepWithContext sleeps for d or returns early when ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff doubles the delay up to cap.
func nextBackoff(curr, cap time.Duration) time.Duration {
	n := curr * 2
	if n > cap {
		return cap
	}
	return n
}
