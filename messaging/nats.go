// Package messaging publishes post events on NATS so every server instance
// can relay them to its live-feed clients.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/Iemontine/microblog/cmd/models"
	"github.com/nats-io/nats.go"
)

const postSubjects = "post.*"

type Bus struct {
	conn *nats.Conn
}

// Connect dials the NATS server at url.
func Connect(url string) (*Bus, error) {
	conn, err := nats.Connect(url, nats.Name("microblog"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	log.Println("NATS connected successfully")
	return &Bus{conn: conn}, nil
}

// Publish sends event on the subject named after its type.
func (b *Bus) Publish(_ context.Context, event models.PostEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.conn.Publish(string(event.Type), eventJSON)
}

// Subscribe delivers every post event to handler. Undecodable messages are
// logged and dropped.
func (b *Bus) Subscribe(handler func(models.PostEvent)) (*nats.Subscription, error) {
	return b.conn.Subscribe(postSubjects, func(msg *nats.Msg) {
		var event models.PostEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Dropping malformed event on %s: %v", msg.Subject, err)
			return
		}
		handler(event)
	})
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() error {
	return b.conn.Drain()
}
