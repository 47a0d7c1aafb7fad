package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopstack/payflow/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertOrder(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, amount, currency, status, gateway_order_id, payment_session_id,
			gateway_payment_id, customer_id, customer_email, customer_phone,
			customer_name, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.Amount,
		order.Currency,
		order.Status,
		order.GatewayOrderID,
		order.PaymentSessionID,
		order.GatewayPaymentID,
		order.CustomerID,
		order.CustomerEmail,
		order.CustomerPhone,
		order.CustomerName,
		order.CreatedAt,
		order.UpdatedAt,
		order.Version,
	).Error
}

func (r *repo) FindOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, amount, currency, status, gateway_order_id, payment_session_id,
			gateway_payment_id, customer_id, customer_email, customer_phone,
			customer_name, created_at, updated_at, version
		 FROM orders
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindOrderByGatewayID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, amount, currency, status, gateway_order_id, payment_session_id,
			gateway_payment_id, customer_id, customer_email, customer_phone,
			customer_name, created_at, updated_at, version
		 FROM orders
		 WHERE gateway_order_id = ?
		 LIMIT 1`,
		gatewayOrderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

// UpdateStatus is the compare-and-swap write: the row moves only if it still
// carries the version the caller read. Returns false when a concurrent
// writer won the race.
func (r *repo) UpdateStatus(
	ctx context.Context,
	db *gorm.DB,
	id string,
	fromVersion int64,
	to domain.OrderStatus,
	gatewayPaymentID string,
	updatedAt time.Time,
) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?,
		     gateway_payment_id = CASE WHEN ? <> '' THEN ? ELSE gateway_payment_id END,
		     updated_at = ?,
		     version = version + 1
		 WHERE id = ? AND version = ?`,
		to,
		gatewayPaymentID,
		gatewayPaymentID,
		updatedAt,
		id,
		fromVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, order_id, gateway_payment_id, reported_status, source,
			payload_digest, payload, received_at, applied_at, anomaly
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id, payload_digest) DO NOTHING`,
		event.ID,
		event.OrderID,
		event.GatewayPaymentID,
		event.ReportedStatus,
		event.Source,
		event.PayloadDigest,
		event.Payload,
		event.ReceivedAt,
		event.AppliedAt,
		event.Anomaly,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, orderID, payloadDigest string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, gateway_payment_id, reported_status, source,
			payload_digest, payload, received_at, applied_at, anomaly
		 FROM payment_events
		 WHERE order_id = ? AND payload_digest = ?
		 LIMIT 1`,
		orderID,
		payloadDigest,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, appliedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET applied_at = ?
		 WHERE id = ?`,
		appliedAt,
		id,
	).Error
}

func (r *repo) MarkAnomaly(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET anomaly = TRUE
		 WHERE id = ?`,
		id,
	).Error
}

func (r *repo) CountEvents(ctx context.Context, db *gorm.DB, orderID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_events WHERE order_id = ?`,
		orderID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
