package message_broaker

import (
	"context"
	"encoding/json"
	"github.com/relaydesk/taskrelay/types"
	"log"
	"time"
)

// Events publishes task lifecycle events. A nil *Events is valid and publishes nothing,
// which is how the coordinator runs when no broker is configured.
type Events struct {
	broker MessageBroker
	now    func() time.Time
}

func NewEvents(broker MessageBroker) *Events {
	if broker == nil {
		return nil
	}
	return &Events{broker: broker, now: time.Now}
}

// Publish never fails the caller: the stream is informational and a broker outage must
// not block claims or reports.
func (e *Events) Publish(ctx context.Context, event types.TaskEvent) {
	if e == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("events: encode %s for task %s: %v", event.Type, event.TaskID, err)
		return
	}
	if err := e.broker.Publish(ctx, event.TaskID, payload); err != nil {
		log.Printf("events: publish %s for task %s: %v", event.Type, event.TaskID, err)
	}
}

// Subscribe decodes events from the broker and hands them to fn until ctx is done.
func (e *Events) Subscribe(ctx context.Context, fn func(types.TaskEvent)) error {
	msgs, err := e.broker.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		var event types.TaskEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			log.Printf("events: skipping undecodable message: %v", err)
			continue
		}
		fn(event)
	}
	return ctx.Err()
}

func (e *Events) Close() error {
	if e == nil {
		return nil
	}
	return e.broker.Close()
}
