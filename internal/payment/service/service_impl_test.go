package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/shopstack/payflow/internal/payment/domain"
	paymentrepo "github.com/shopstack/payflow/internal/payment/repository"
	paymentservice "github.com/shopstack/payflow/internal/payment/service"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE orders (
			id TEXT PRIMARY KEY,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			gateway_order_id TEXT,
			payment_session_id TEXT,
			gateway_payment_id TEXT,
			customer_id TEXT NOT NULL,
			customer_email TEXT,
			customer_phone TEXT,
			customer_name TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE payment_events (
			id BIGINT PRIMARY KEY,
			order_id TEXT NOT NULL,
			gateway_payment_id TEXT,
			reported_status TEXT NOT NULL,
			source TEXT NOT NULL,
			payload_digest TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			applied_at DATETIME,
			anomaly BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE UNIQUE INDEX ux_payment_events_order_digest ON payment_events(order_id, payload_digest)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newReconciler(t *testing.T, db *gorm.DB) *paymentservice.Service {
	t.Helper()

	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return paymentservice.NewService(paymentservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  paymentrepo.Provide(),
	})
}

func seedOrder(t *testing.T, db *gorm.DB, id string, amount int64) {
	t.Helper()

	now := time.Now().UTC()
	order := &paymentdomain.Order{
		ID:             id,
		Amount:         amount,
		Currency:       "INR",
		Status:         paymentdomain.StatusPending,
		GatewayOrderID: "cf_" + id,
		CustomerID:     "guest_test",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := paymentrepo.Provide().InsertOrder(context.Background(), db, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func event(orderID string, status paymentdomain.EventStatus, source, payload string) *paymentdomain.PaymentEvent {
	raw := []byte(payload)
	return &paymentdomain.PaymentEvent{
		OrderID:        orderID,
		ReportedStatus: status,
		Amount:         4900,
		Currency:       "INR",
		Source:         source,
		RawPayload:     raw,
		PayloadDigest:  paymentservice.Digest(raw),
	}
}

func orderStatus(t *testing.T, db *gorm.DB, id string) paymentdomain.OrderStatus {
	t.Helper()

	order, err := paymentrepo.Provide().FindOrder(context.Background(), db, id)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order == nil {
		t.Fatalf("order %s missing", id)
	}
	return order.Status
}

func TestApplyIdempotence(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newReconciler(t, db)
	seedOrder(t, db, "ORDER_1_a", 4900)

	evt := event("ORDER_1_a", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{"n":1}`)

	first, err := svc.Apply(ctx, evt)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if !first.Applied || first.Status != paymentdomain.StatusConfirmed {
		t.Fatalf("first apply = %+v, want applied confirmed", first)
	}

	for i := 0; i < 3; i++ {
		replay, err := svc.Apply(ctx, event("ORDER_1_a", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{"n":1}`))
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if !replay.Duplicate {
			t.Fatalf("replay %d not marked duplicate: %+v", i, replay)
		}
		if replay.Status != paymentdomain.StatusConfirmed {
			t.Fatalf("replay %d status = %s", i, replay.Status)
		}
	}

	count, err := paymentrepo.Provide().CountEvents(ctx, db, "ORDER_1_a")
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("event rows = %d, want 1", count)
	}
}

func TestFailedEventNeverDowngradesConfirmed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newReconciler(t, db)
	seedOrder(t, db, "ORDER_2_b", 4900)

	if _, err := svc.Apply(ctx, event("ORDER_2_b", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{"n":1}`)); err != nil {
		t.Fatalf("apply success: %v", err)
	}

	result, err := svc.Apply(ctx, event("ORDER_2_b", paymentdomain.EventFailed, paymentdomain.SourceWebhook, `{"n":2}`))
	if err != nil {
		t.Fatalf("apply failed event: %v", err)
	}
	if result.Applied {
		t.Fatalf("anomalous event applied: %+v", result)
	}
	if got := orderStatus(t, db, "ORDER_2_b"); got != paymentdomain.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", got)
	}

	var anomalies int64
	if err := db.Raw(`SELECT COUNT(1) FROM payment_events WHERE order_id = ? AND anomaly`, "ORDER_2_b").Scan(&anomalies).Error; err != nil {
		t.Fatalf("count anomalies: %v", err)
	}
	if anomalies != 1 {
		t.Fatalf("anomaly rows = %d, want 1", anomalies)
	}
}

func TestWebhookAndPollConverge(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newReconciler(t, db)
	seedOrder(t, db, "ORDER_3_c", 4900)

	webhook, err := svc.Apply(ctx, event("ORDER_3_c", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{"hook":true}`))
	if err != nil {
		t.Fatalf("webhook apply: %v", err)
	}
	poll, err := svc.Apply(ctx, event("ORDER_3_c", paymentdomain.EventSuccess, paymentdomain.SourcePoll, `{"poll":true}`))
	if err != nil {
		t.Fatalf("poll apply: %v", err)
	}

	if webhook.Status != paymentdomain.StatusConfirmed || poll.Status != paymentdomain.StatusConfirmed {
		t.Fatalf("statuses = %s/%s, want confirmed", webhook.Status, poll.Status)
	}
	if poll.Applied {
		t.Fatal("poll re-applied an already confirmed order")
	}
	if got := orderStatus(t, db, "ORDER_3_c"); got == paymentdomain.StatusPending {
		t.Fatal("order left pending after both paths")
	}
}

func TestApplyUnknownOrder(t *testing.T) {
	db := setupTestDB(t)
	svc := newReconciler(t, db)

	_, err := svc.Apply(context.Background(), event("ORDER_nope", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{}`))
	if !errors.Is(err, paymentdomain.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestRedeliveryCompletesInterruptedApply(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newReconciler(t, db)
	repo := paymentrepo.Provide()
	seedOrder(t, db, "ORDER_5_e", 4900)

	evt := event("ORDER_5_e", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{"n":1}`)

	// The first delivery got as far as persisting its audit row, then died
	// before the status write: applied_at stays NULL, the order stays pending.
	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	inserted, err := repo.InsertEvent(ctx, db, &paymentdomain.EventRecord{
		ID:             node.Generate(),
		OrderID:        evt.OrderID,
		ReportedStatus: string(evt.ReportedStatus),
		Source:         evt.Source,
		PayloadDigest:  evt.PayloadDigest,
		Payload:        datatypes.JSON(evt.RawPayload),
		ReceivedAt:     time.Now().UTC(),
	})
	if err != nil || !inserted {
		t.Fatalf("seed event row: inserted=%v err=%v", inserted, err)
	}

	result, err := svc.Apply(ctx, evt)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !result.Applied || result.Status != paymentdomain.StatusConfirmed {
		t.Fatalf("redelivery = %+v, want applied confirmed", result)
	}
	if got := orderStatus(t, db, "ORDER_5_e"); got != paymentdomain.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", got)
	}

	count, err := repo.CountEvents(ctx, db, "ORDER_5_e")
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("event rows = %d, want 1", count)
	}
	record, err := repo.FindEvent(ctx, db, evt.OrderID, evt.PayloadDigest)
	if err != nil {
		t.Fatalf("find event: %v", err)
	}
	if record == nil || record.AppliedAt == nil {
		t.Fatalf("event record not marked applied: %+v", record)
	}

	// Further replays of the completed event are plain duplicates.
	replay, err := svc.Apply(ctx, event("ORDER_5_e", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{"n":1}`))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Duplicate || replay.Applied {
		t.Fatalf("replay = %+v, want duplicate", replay)
	}
}

// racingRepo lets a test lose the compare-and-swap write: before runs once
// ahead of the first UpdateStatus, rejectAll makes every CAS attempt lose.
type racingRepo struct {
	paymentdomain.Repository
	before    func()
	ran       bool
	rejectAll bool
}

func (r *racingRepo) UpdateStatus(
	ctx context.Context,
	db *gorm.DB,
	id string,
	fromVersion int64,
	to paymentdomain.OrderStatus,
	gatewayPaymentID string,
	updatedAt time.Time,
) (bool, error) {
	if r.rejectAll {
		return false, nil
	}
	if !r.ran && r.before != nil {
		r.ran = true
		r.before()
	}
	return r.Repository.UpdateStatus(ctx, db, id, fromVersion, to, gatewayPaymentID, updatedAt)
}

func newRacingReconciler(t *testing.T, db *gorm.DB, repo paymentdomain.Repository) *paymentservice.Service {
	t.Helper()

	node, err := snowflake.NewNode(12)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return paymentservice.NewService(paymentservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repo,
	})
}

func TestLostCASRaceResolvesOnReread(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	real := paymentrepo.Provide()
	seedOrder(t, db, "ORDER_6_f", 4900)

	// A concurrent writer confirms the order between our read and write, so
	// the first CAS loses and the re-read resolves to a no-op.
	racing := &racingRepo{
		Repository: real,
		before: func() {
			ok, err := real.UpdateStatus(ctx, db, "ORDER_6_f", 0, paymentdomain.StatusConfirmed, "pay_race", time.Now().UTC())
			if err != nil || !ok {
				t.Fatalf("concurrent update: ok=%v err=%v", ok, err)
			}
		},
	}
	svc := newRacingReconciler(t, db, racing)

	result, err := svc.Apply(ctx, event("ORDER_6_f", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{"n":1}`))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Applied {
		t.Fatalf("lost race still applied: %+v", result)
	}
	if result.Status != paymentdomain.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", result.Status)
	}
	if got := orderStatus(t, db, "ORDER_6_f"); got != paymentdomain.StatusConfirmed {
		t.Fatalf("order status = %s, want confirmed", got)
	}
	record, err := real.FindEvent(ctx, db, "ORDER_6_f", paymentservice.Digest([]byte(`{"n":1}`)))
	if err != nil {
		t.Fatalf("find event: %v", err)
	}
	if record == nil || record.AppliedAt == nil {
		t.Fatalf("converged event not marked applied: %+v", record)
	}
}

func TestRepeatedCASLossReturnsConflict(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	seedOrder(t, db, "ORDER_7_g", 4900)

	racing := &racingRepo{Repository: paymentrepo.Provide(), rejectAll: true}
	svc := newRacingReconciler(t, db, racing)

	result, err := svc.Apply(ctx, event("ORDER_7_g", paymentdomain.EventSuccess, paymentdomain.SourceWebhook, `{"n":1}`))
	if !errors.Is(err, paymentdomain.ErrStatusConflict) {
		t.Fatalf("err = %v, want ErrStatusConflict", err)
	}
	if result == nil || result.Applied {
		t.Fatalf("result = %+v, want unapplied", result)
	}
	if result.Status != paymentdomain.StatusPending {
		t.Fatalf("status = %s, want pending", result.Status)
	}
	if got := orderStatus(t, db, "ORDER_7_g"); got != paymentdomain.StatusPending {
		t.Fatalf("order status = %s, want pending", got)
	}
}

func TestUpdateStatusCAS(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := paymentrepo.Provide()
	seedOrder(t, db, "ORDER_4_d", 4900)

	now := time.Now().UTC()
	ok, err := repo.UpdateStatus(ctx, db, "ORDER_4_d", 0, paymentdomain.StatusConfirmed, "pay_1", now)
	if err != nil {
		t.Fatalf("cas update: %v", err)
	}
	if !ok {
		t.Fatal("cas update against current version rejected")
	}

	// Stale version must lose.
	ok, err = repo.UpdateStatus(ctx, db, "ORDER_4_d", 0, paymentdomain.StatusFailed, "", now)
	if err != nil {
		t.Fatalf("stale cas update: %v", err)
	}
	if ok {
		t.Fatal("stale version accepted")
	}

	order, err := repo.FindOrder(ctx, db, "ORDER_4_d")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.Status != paymentdomain.StatusConfirmed || order.Version != 1 {
		t.Fatalf("order = %s v%d, want confirmed v1", order.Status, order.Version)
	}
	if order.GatewayPaymentID != "pay_1" {
		t.Fatalf("gateway_payment_id = %q, want pay_1", order.GatewayPaymentID)
	}
}
