package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OrderStatus is the local lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
	StatusRefunded  OrderStatus = "refunded"
)

// EventStatus is the payment outcome reported by the gateway, via webhook
// or status poll.
type EventStatus string

const (
	EventSuccess  EventStatus = "SUCCESS"
	EventFailed   EventStatus = "FAILED"
	EventPending  EventStatus = "PENDING"
	EventRefunded EventStatus = "REFUNDED"
)

// Event sources recorded on the audit trail.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// Order is the durable record of a payment session. Amount is integer minor
// units. Version backs optimistic concurrency: every status mutation
// increments it and a write is accepted only against the version it read.
type Order struct {
	ID               string      `json:"id" gorm:"primaryKey"`
	Amount           int64       `json:"amount" gorm:"not null"`
	Currency         string      `json:"currency" gorm:"type:text;not null"`
	Status           OrderStatus `json:"status" gorm:"type:text;not null"`
	GatewayOrderID   string      `json:"gateway_order_id" gorm:"type:text;uniqueIndex"`
	PaymentSessionID string      `json:"payment_session_id" gorm:"type:text"`
	GatewayPaymentID string      `json:"gateway_payment_id" gorm:"type:text"`
	CustomerID       string      `json:"customer_id" gorm:"type:text;not null"`
	CustomerEmail    string      `json:"customer_email" gorm:"type:text"`
	CustomerPhone    string      `json:"customer_phone" gorm:"type:text"`
	CustomerName     string      `json:"customer_name" gorm:"type:text"`
	CreatedAt        time.Time   `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time   `json:"updated_at" gorm:"not null"`
	Version          int64       `json:"version" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentEvent is the canonical event derived from a webhook payload or a
// gateway status poll. PayloadDigest is the SHA-256 of the raw bytes and is
// the dedup key for at-least-once delivery.
type PaymentEvent struct {
	OrderID          string
	GatewayPaymentID string
	ReportedStatus   EventStatus
	Amount           int64
	Currency         string
	Source           string
	ReceivedAt       time.Time
	PayloadDigest    string
	RawPayload       []byte
}

// EventRecord is the persisted audit row for every received event. The
// (order_id, payload_digest) unique index makes replays a no-op across
// restarts and replicas.
type EventRecord struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrderID          string         `json:"order_id" gorm:"type:text;not null;index"`
	GatewayPaymentID string         `json:"gateway_payment_id" gorm:"type:text"`
	ReportedStatus   string         `json:"reported_status" gorm:"type:text;not null"`
	Source           string         `json:"source" gorm:"type:text;not null"`
	PayloadDigest    string         `json:"payload_digest" gorm:"type:text;not null"`
	Payload          datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt       time.Time      `json:"received_at" gorm:"not null"`
	AppliedAt        *time.Time     `json:"applied_at"`
	Anomaly          bool           `json:"anomaly" gorm:"not null;default:false"`
}

func (EventRecord) TableName() string { return "payment_events" }

// ProcessingResult reports what the reconciler did with an event.
type ProcessingResult struct {
	OrderID   string
	Status    OrderStatus
	Applied   bool
	Duplicate bool
	Verified  bool
}
