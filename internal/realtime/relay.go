package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix is prepended to the project ID to form the relay subject.
const SubjectPrefix = "trackflow.events."

// Relay mirrors hub events over NATS so every API instance can serve every
// project room.
type Relay struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	hub    *Hub
	logger *zap.Logger
}

// NewRelay connects to url and starts re-broadcasting remote events into
// hub. The relay attaches itself to the hub.
func NewRelay(url string, hub *Hub, logger *zap.Logger) (*Relay, error) {
	nc, err := nats.Connect(url, nats.Name("trackflow-api"))
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}

	r := &Relay{conn: nc, hub: hub, logger: logger}
	sub, err := nc.Subscribe(SubjectPrefix+"*", r.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe failed: %w", err)
	}
	r.sub = sub
	hub.SetRelay(r)

	logger.Info("Realtime relay connected", zap.String("url", nc.ConnectedUrlRedacted()))
	return r, nil
}

// Publish sends evt to the project subject.
func (r *Relay) Publish(evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.conn.Publish(SubjectPrefix+evt.ProjectID, data)
}

func (r *Relay) handle(msg *nats.Msg) {
	var evt Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		r.logger.Warn("Dropping malformed relay message",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return
	}
	r.hub.Deliver(&evt)
}

// Close detaches from the hub and drains the connection.
func (r *Relay) Close() error {
	r.hub.SetRelay(nil)
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	return r.conn.Drain()
}
