// Package events defines the envelope and payloads the core emits.
// Notifications are fire-and-forget: emission never blocks or fails a core
// transition.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/hotplate/takeaway/internal/kafka"
	"github.com/hotplate/takeaway/internal/money"
)

const (
	EventOrderPlaced         = "OrderPlaced"
	EventStatusChanged       = "StatusChanged"
	EventRefundIssued        = "RefundIssued"
	EventReservationReleased = "ReservationReleased"
)

const (
	TopicOrderPlaced         = "order.placed"
	TopicStatusChanged       = "order.status"
	TopicRefundIssued        = "order.refund"
	TopicReservationReleased = "order.reservation.released"
)

// Topics maps each event type to its topic; one producer per topic, and a
// partition key of order id keeps per-order ordering.
var Topics = map[string]string{
	EventOrderPlaced:         TopicOrderPlaced,
	EventStatusChanged:       TopicStatusChanged,
	EventRefundIssued:        TopicRefundIssued,
	EventReservationReleased: TopicReservationReleased,
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	TotalCents money.Cents `json:"total_cents"`
	Scheduled  bool        `json:"scheduled,omitempty"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Note    string `json:"note,omitempty"`
}

type RefundIssuedPayload struct {
	OrderID        string      `json:"order_id"`
	RefundID       string      `json:"refund_id"`
	AmountCents    money.Cents `json:"amount_cents"`
	Reason         string      `json:"reason"`
	PointsRestored int         `json:"points_restored,omitempty"`
}

type ReservationReleasedPayload struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
}

// Publisher is what the core sees; emission is best effort.
type Publisher interface {
	Publish(ctx context.Context, eventType, orderID string, payload any)
}

// KafkaPublisher wraps one async producer per topic.
type KafkaPublisher struct {
	Producers map[string]*kafkax.Producer // keyed by topic
	Service   string
}

func (p *KafkaPublisher) Publish(_ context.Context, eventType, orderID string, payload any) {
	topic, ok := Topics[eventType]
	if !ok {
		return
	}
	prod, ok := p.Producers[topic]
	if !ok {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	prod.Publish([]byte(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// Nop drops every event; used in tests and when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) {}
