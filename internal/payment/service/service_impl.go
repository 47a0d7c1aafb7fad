package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/shopstack/payflow/internal/observability/metrics"
	"github.com/shopstack/payflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service applies canonical payment events to the order store. It is the
// only code path that mutates order status; the webhook and verification
// services both delegate here so the transition table exists exactly once.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.reconciler"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Apply(ctx context.Context, event *domain.PaymentEvent) (*domain.ProcessingResult, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	order, err := s.repo.FindOrder(ctx, s.db, event.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	if event.Amount > 0 && event.Amount != order.Amount {
		s.log.Warn("event amount differs from order amount",
			zap.String("order_id", order.ID),
			zap.Int64("order_amount", order.Amount),
			zap.Int64("event_amount", event.Amount),
		)
	}

	now := time.Now().UTC()
	record := domain.EventRecord{
		ID:               s.genID.Generate(),
		OrderID:          event.OrderID,
		GatewayPaymentID: event.GatewayPaymentID,
		ReportedStatus:   string(event.ReportedStatus),
		Source:           event.Source,
		PayloadDigest:    event.PayloadDigest,
		Payload:          datatypes.JSON(event.RawPayload),
		ReceivedAt:       now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, s.db, event.OrderID, record.PayloadDigest)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.AppliedAt == nil && !existing.Anomaly {
			// The earlier delivery persisted its audit row but died before
			// the status write. Finish that work under the original record;
			// the transition table makes the re-run idempotent.
			result, err := s.transition(ctx, order, event, existing.ID)
			if err != nil {
				return result, err
			}
			if s.obsMetrics != nil {
				s.obsMetrics.RecordPaymentEvent(ctx, event.Source, string(event.ReportedStatus))
			}
			return result, nil
		}
		// Replayed delivery: already recorded and applied for this order.
		return &domain.ProcessingResult{
			OrderID:   order.ID,
			Status:    order.Status,
			Duplicate: true,
		}, nil
	}

	result, err := s.transition(ctx, order, event, record.ID)
	if err != nil {
		return result, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Source, string(event.ReportedStatus))
	}
	return result, nil
}

func (s *Service) transition(
	ctx context.Context,
	order *domain.Order,
	event *domain.PaymentEvent,
	recordID snowflake.ID,
) (*domain.ProcessingResult, error) {
	now := time.Now().UTC()

	next, outcome := domain.Next(order.Status, event.ReportedStatus)
	switch outcome {
	case domain.OutcomeNoop:
		if err := s.repo.MarkApplied(ctx, s.db, recordID, now); err != nil {
			return nil, err
		}
		return &domain.ProcessingResult{OrderID: order.ID, Status: order.Status}, nil
	case domain.OutcomeAnomaly:
		return s.recordAnomaly(ctx, order, event, recordID)
	}

	ok, err := s.repo.UpdateStatus(ctx, s.db, order.ID, order.Version, next, event.GatewayPaymentID, now)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := s.repo.MarkApplied(ctx, s.db, recordID, now); err != nil {
			return nil, err
		}
		return &domain.ProcessingResult{OrderID: order.ID, Status: next, Applied: true}, nil
	}

	// A concurrent writer advanced the order between our read and write.
	// Re-read and re-evaluate once; most races resolve to a no-op because
	// both paths report the same gateway outcome.
	current, err := s.repo.FindOrder(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrOrderNotFound
	}

	next, outcome = domain.Next(current.Status, event.ReportedStatus)
	switch outcome {
	case domain.OutcomeNoop:
		if err := s.repo.MarkApplied(ctx, s.db, recordID, now); err != nil {
			return nil, err
		}
		return &domain.ProcessingResult{OrderID: current.ID, Status: current.Status}, nil
	case domain.OutcomeAnomaly:
		return s.recordAnomaly(ctx, current, event, recordID)
	}

	ok, err = s.repo.UpdateStatus(ctx, s.db, current.ID, current.Version, next, event.GatewayPaymentID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordConflict(ctx, string(current.Status), string(event.ReportedStatus))
		}
		s.log.Error("status transition lost two races",
			zap.String("order_id", current.ID),
			zap.String("current", string(current.Status)),
			zap.String("reported", string(event.ReportedStatus)),
		)
		return &domain.ProcessingResult{OrderID: current.ID, Status: current.Status}, domain.ErrStatusConflict
	}
	if err := s.repo.MarkApplied(ctx, s.db, recordID, now); err != nil {
		return nil, err
	}
	return &domain.ProcessingResult{OrderID: current.ID, Status: next, Applied: true}, nil
}

func (s *Service) recordAnomaly(
	ctx context.Context,
	order *domain.Order,
	event *domain.PaymentEvent,
	recordID snowflake.ID,
) (*domain.ProcessingResult, error) {
	if err := s.repo.MarkAnomaly(ctx, s.db, recordID); err != nil {
		return nil, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordConflict(ctx, string(order.Status), string(event.ReportedStatus))
	}
	// Upstream inconsistency, not a caller fault: the order keeps its
	// terminal status and the event stays on the audit trail.
	s.log.Warn("anomalous event against terminal order",
		zap.String("order_id", order.ID),
		zap.String("current", string(order.Status)),
		zap.String("reported", string(event.ReportedStatus)),
		zap.String("source", event.Source),
	)
	return &domain.ProcessingResult{OrderID: order.ID, Status: order.Status}, nil
}

func validateEvent(event *domain.PaymentEvent) error {
	if event == nil {
		return domain.ErrInvalidEvent
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return domain.ErrInvalidEvent
	}
	switch event.ReportedStatus {
	case domain.EventSuccess, domain.EventFailed, domain.EventPending, domain.EventRefunded:
	default:
		return domain.ErrInvalidEvent
	}
	if event.Source == "" {
		event.Source = domain.SourceWebhook
	}
	if len(event.RawPayload) == 0 {
		event.RawPayload = []byte("{}")
	}
	if event.PayloadDigest == "" {
		event.PayloadDigest = Digest(event.RawPayload)
	}
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	return nil
}

// Digest is the dedup key for a raw event payload.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
