package tablequeue

import (
	"fmt"
	"time"

	"github.com/jirevwe/tablequeue/queue"
	"github.com/vmihailenco/msgpack/v5"
)

// Message is a queued message as seen by producers and callbacks.
type Message struct {
	id          string
	queueName   string
	body        []byte
	headers     map[string]string
	properties  map[string]string
	priority    int64
	publishedAt time.Time
	redelivered bool

	// set on delivery
	deliveryId     string
	claimExpiresAt time.Time

	// set by producers
	delay      time.Duration
	timeToLive time.Duration
}

func NewMessage(body []byte) *Message {
	return &Message{
		body:       body,
		headers:    map[string]string{},
		properties: map[string]string{},
	}
}

func (m *Message) Id() string                { return m.id }
func (m *Message) Queue() string             { return m.queueName }
func (m *Message) Body() []byte              { return m.body }
func (m *Message) Priority() int64           { return m.priority }
func (m *Message) PublishedAt() time.Time    { return m.publishedAt }
func (m *Message) Redelivered() bool         { return m.redelivered }
func (m *Message) DeliveryId() string        { return m.deliveryId }
func (m *Message) ClaimExpiresAt() time.Time { return m.claimExpiresAt }

func (m *Message) Header(key string) string   { return m.headers[key] }
func (m *Message) Property(key string) string { return m.properties[key] }

// Headers returns a copy of the message headers.
func (m *Message) Headers() map[string]string { return copyMap(m.headers) }

// Properties returns a copy of the message properties.
func (m *Message) Properties() map[string]string { return copyMap(m.properties) }

func (m *Message) WithHeader(key, value string) *Message {
	m.headers[key] = value
	return m
}

func (m *Message) WithProperty(key, value string) *Message {
	m.properties[key] = value
	return m
}

// WithPriority sets the priority, higher values are claimed first within a queue.
func (m *Message) WithPriority(p int64) *Message {
	m.priority = p
	return m
}

// WithDelay keeps the message unclaimable for d after it is sent.
func (m *Message) WithDelay(d time.Duration) *Message {
	m.delay = d
	return m
}

// WithTimeToLive drops the message if it is still unclaimed d after it is sent.
func (m *Message) WithTimeToLive(d time.Duration) *Message {
	m.timeToLive = d
	return m
}

func (m *Message) toRow(id, queueName string, now time.Time) (queue.Row, error) {
	headers, err := msgpack.Marshal(m.headers)
	if err != nil {
		return queue.Row{}, fmt.Errorf("cannot encode headers: %w", err)
	}

	properties, err := msgpack.Marshal(m.properties)
	if err != nil {
		return queue.Row{}, fmt.Errorf("cannot encode properties: %w", err)
	}

	row := queue.Row{
		Id:          id,
		Queue:       queueName,
		Body:        m.body,
		Headers:     headers,
		Properties:  properties,
		Priority:    m.priority,
		PublishedAt: queue.ToMillis(now),
	}

	if m.delay > 0 {
		row.DelayedUntil = queue.NullMillis(now.Add(m.delay))
	}

	if m.timeToLive > 0 {
		row.TimeToLive = queue.NullMillis(now.Add(m.timeToLive))
	}

	return row, nil
}

func messageFromRow(row queue.Row) (*Message, error) {
	m := &Message{
		id:             row.Id,
		queueName:      row.Queue,
		body:           row.Body,
		priority:       row.Priority,
		publishedAt:    queue.FromMillis(row.PublishedAt),
		redelivered:    row.Redelivered,
		deliveryId:     row.DeliveryId.String,
		claimExpiresAt: row.ClaimExpiresAt(),
	}

	var err error
	if m.headers, err = decodeMap(row.Headers); err != nil {
		return nil, fmt.Errorf("cannot decode headers of message %s: %w", row.Id, err)
	}

	if m.properties, err = decodeMap(row.Properties); err != nil {
		return nil, fmt.Errorf("cannot decode properties of message %s: %w", row.Id, err)
	}

	return m, nil
}

func decodeMap(raw []byte) (map[string]string, error) {
	out := map[string]string{}
	if len(raw) == 0 {
		return out, nil
	}

	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	// a nil map encodes to msgpack nil
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
