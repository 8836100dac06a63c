package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/intent-solutions-io/durable/id"
)

// Metadata carries optional delivery hints on an envelope.
type Metadata struct {
	// MaxRetries overrides the worker's default attempt budget.
	MaxRetries int `json:"max_retries,omitempty"`

	// Priority determines claim ordering. Higher values first.
	Priority int `json:"priority,omitempty"`

	// Deadline is the latest useful processing time.
	Deadline *time.Time `json:"deadline,omitempty"`

	// Delay defers delivery to consumers.
	Delay time.Duration `json:"delay,omitempty"`

	// OrderingKey serializes delivery: messages sharing a key are handled
	// one at a time, in publish order. Empty means no ordering guarantee.
	OrderingKey string `json:"ordering_key,omitempty"`
}

// Envelope is the typed message carried by the job queue between
// producers and worker pools.
type Envelope struct {
	ID       id.MessageID    `json:"id"`
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	RunID    id.RunID        `json:"run_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`

	PublishedAt time.Time `json:"published_at,omitempty"`
}

// NewEnvelope creates an envelope with a generated message ID.
func NewEnvelope(msgType, tenantID string, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:       id.NewMessageID(),
		Type:     msgType,
		TenantID: tenantID,
		Payload:  payload,
	}
}

// Validate checks the envelope schema. Publish rejects invalid envelopes
// synchronously; nothing malformed ever reaches a consumer.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("queue: nil envelope")
	}
	if e.ID.IsNil() {
		return fmt.Errorf("queue: envelope missing message id")
	}
	if e.Type == "" {
		return fmt.Errorf("queue: envelope missing type")
	}
	if e.TenantID == "" {
		return fmt.Errorf("queue: envelope missing tenant id")
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("queue: envelope payload is not valid JSON")
	}
	return nil
}

// OrderingKey returns the envelope's ordering key, or empty.
func (e *Envelope) OrderingKey() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata.OrderingKey
}

// DeliveryDelay returns the envelope's delivery delay, or zero.
func (e *Envelope) DeliveryDelay() time.Duration {
	if e.Metadata == nil {
		return 0
	}
	return e.Metadata.Delay
}

// PastDeadline reports whether the envelope's processing deadline has
// lapsed. Envelopes without a deadline never expire.
func (e *Envelope) PastDeadline(now time.Time) bool {
	if e.Metadata == nil || e.Metadata.Deadline == nil {
		return false
	}
	return now.After(*e.Metadata.Deadline)
}
