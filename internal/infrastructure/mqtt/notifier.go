package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RaduG/chanio-core/internal/cio"
)

// publisher is the slice of Client the notifier needs. Narrowed for
// testability.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

const notifierQueueDepth = 512

// note is one queued lifecycle notification. The device is inspected
// on the worker goroutine, never in the callback, because state-change
// callbacks run under the device lock.
type note struct {
	dev  *cio.Device
	kind string
	from string
	to   string
}

// Notifier publishes device lifecycle traffic to the broker.
//
// Each device gets a retained state topic carrying its current state
// and a non-retained event stream, so late subscribers see the present
// picture while live subscribers see every transition. Callbacks only
// enqueue; Run drains the queue and does the publishing.
type Notifier struct {
	pub    publisher
	qos    byte
	avail  func(*cio.Device) string
	logger Logger
	notes  chan note
	done   chan struct{}
}

// NewNotifier creates a notifier publishing through the given client.
// avail resolves a device's availability text and may be nil. Run must
// be started before notifications arrive.
func NewNotifier(client *Client, qos byte, avail func(*cio.Device) string) *Notifier {
	return &Notifier{
		pub:   client,
		qos:   qos,
		avail: avail,
		notes: make(chan note, notifierQueueDepth),
		done:  make(chan struct{}),
	}
}

// SetLogger sets a logger for publish failures.
func (n *Notifier) SetLogger(logger Logger) { n.logger = logger }

// Run drains the queue until the context is cancelled, then flushes
// what is left.
func (n *Notifier) Run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case nt := <-n.notes:
			n.emit(nt)
		case <-ctx.Done():
			for {
				select {
				case nt := <-n.notes:
					n.emit(nt)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (n *Notifier) Wait() { <-n.done }

// DeviceRegistered implements cio.Notifier.
func (n *Notifier) DeviceRegistered(dev *cio.Device) {
	n.enqueue(note{dev: dev, kind: "registered"})
}

// DeviceUnregistered implements cio.Notifier.
func (n *Notifier) DeviceUnregistered(dev *cio.Device) {
	n.enqueue(note{dev: dev, kind: "unregistered"})
}

// StateChanged implements cio.Notifier. Runs under the device lock, so
// only the immutable identity and the supplied states are touched.
func (n *Notifier) StateChanged(dev *cio.Device, from, to cio.State) {
	n.enqueue(note{dev: dev, kind: "transition", from: from.String(), to: to.String()})
}

func (n *Notifier) enqueue(nt note) {
	select {
	case n.notes <- nt:
	default:
		n.warn("queue full, dropping notification", nt.dev.ID.String(), nil)
	}
}

// statePayload is the retained per-device state document.
type statePayload struct {
	DeviceID     string `json:"device_id"`
	State        string `json:"state"`
	Online       bool   `json:"online"`
	Availability string `json:"availability,omitempty"`
	Modalias     string `json:"modalias,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// eventPayload is one lifecycle event message.
type eventPayload struct {
	DeviceID  string `json:"device_id"`
	Kind      string `json:"kind"`
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (n *Notifier) emit(nt note) {
	id := nt.dev.ID.String()
	if nt.kind == "unregistered" {
		// Clear the retained state so late subscribers do not see a
		// ghost device.
		n.publish(Topics{}.DeviceState(id), nil, true)
	} else {
		n.publishState(nt.dev)
	}
	n.publishEvent(Topics{}.DeviceEvent(id), eventPayload{
		DeviceID:  id,
		Kind:      nt.kind,
		FromState: nt.from,
		ToState:   nt.to,
		Timestamp: now(),
	})
}

func (n *Notifier) publishState(dev *cio.Device) {
	p := statePayload{
		DeviceID:  dev.ID.String(),
		State:     dev.State().String(),
		Online:    dev.Online(),
		Modalias:  dev.Info().Modalias(),
		Timestamp: now(),
	}
	if n.avail != nil {
		p.Availability = n.avail(dev)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		n.warn("marshal state payload", p.DeviceID, err)
		return
	}
	n.publish(Topics{}.DeviceState(p.DeviceID), payload, true)
}

func (n *Notifier) publishEvent(topic string, p eventPayload) {
	payload, err := json.Marshal(p)
	if err != nil {
		n.warn("marshal event payload", p.DeviceID, err)
		return
	}
	n.publish(topic, payload, false)
}

func (n *Notifier) publish(topic string, payload []byte, retained bool) {
	if err := n.pub.Publish(topic, payload, n.qos, retained); err != nil {
		n.warn("publish lifecycle message", topic, err)
	}
}

func (n *Notifier) warn(msg, subject string, err error) {
	if n.logger != nil {
		n.logger.Warn("MQTT notifier: "+msg, "subject", subject, "error", err)
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
