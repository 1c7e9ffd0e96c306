package realtime

import (
	"context"
	"encoding/json"
	"log"

	"permit-management-api/internal/events"
	"permit-management-api/internal/models"
)

// Bind wires the request event bus to the hub: every request event is pushed
// to the requester's websocket clients. It also installs a logging listener on
// the reserved "error" event so error emissions always have an observer.
func Bind(bus *events.Emitter[models.RequestEvent], hub *Hub) error {
	forward := func(ctx context.Context, evt models.RequestEvent) error {
		payload, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		hub.Broadcast(evt.UserID, payload)
		return nil
	}

	names := []string{
		models.EventRequestCreated,
		models.EventRequestUpdated,
		models.EventRequestDecided,
		models.EventRequestDeleted,
	}
	for _, name := range names {
		if err := bus.On(name, forward); err != nil {
			return err
		}
	}

	return bus.On(events.ErrorEvent, func(ctx context.Context, evt models.RequestEvent) error {
		log.Printf("request bus error event: type=%s request=%s user=%s", evt.Type, evt.RequestID, evt.UserID)
		return nil
	})
}
