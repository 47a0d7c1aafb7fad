package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopstack/payflow/internal/config"
	"github.com/shopstack/payflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultCurrency = "INR"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Cfg     config.Config
	Repo    domain.Repository
	Gateway domain.Gateway
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     config.Config
	repo    domain.Repository
	gateway domain.Gateway
}

func NewService(p Params) domain.SessionService {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("payment.session"),
		cfg:     p.Cfg,
		repo:    p.Repo,
		gateway: p.Gateway,
	}
}

// CreateSession validates the request, registers the order with the gateway,
// then persists the local row. Ordering matters: a local row only exists for
// orders the gateway has acknowledged, so there is never a stored order
// without a session token.
func (s *service) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	orderID := newOrderID()
	gwReq := domain.CreateOrderRequest{
		OrderID:       orderID,
		Amount:        req.Amount,
		Currency:      currency,
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		ReturnURL:     req.ReturnURL,
	}
	if gwReq.ReturnURL == "" {
		gwReq.ReturnURL = s.cfg.Gateway.ReturnURL
	}
	applyCustomerDefaults(&gwReq)

	resp, err := s.gateway.CreateOrder(ctx, gwReq)
	if err != nil {
		s.log.Error("gateway order creation failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:               orderID,
		Amount:           req.Amount,
		Currency:         currency,
		Status:           domain.StatusPending,
		GatewayOrderID:   resp.GatewayOrderID,
		PaymentSessionID: resp.PaymentSessionID,
		CustomerID:       gwReq.CustomerID,
		CustomerEmail:    gwReq.CustomerEmail,
		CustomerPhone:    gwReq.CustomerPhone,
		CustomerName:     gwReq.CustomerName,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          0,
	}

	// Detached from caller cancellation: the gateway has committed the
	// order, so the local row must be written even if the client went away.
	if err := s.repo.InsertOrder(context.WithoutCancel(ctx), s.db, order); err != nil {
		s.log.Error("order persistence failed after gateway commit",
			zap.String("order_id", orderID),
			zap.String("gateway_order_id", resp.GatewayOrderID),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("payment session created",
		zap.String("order_id", orderID),
		zap.Int64("amount", req.Amount),
		zap.String("currency", currency),
	)

	return &domain.Session{
		OrderID:          orderID,
		GatewayOrderID:   resp.GatewayOrderID,
		PaymentSessionID: resp.PaymentSessionID,
		Amount:           req.Amount,
		Currency:         currency,
	}, nil
}

// newOrderID yields ids of the form ORDER_<unix-millis>_<suffix>. The suffix
// keeps ids unique across replicas sharing a clock tick.
func newOrderID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("ORDER_%d_%s", time.Now().UnixMilli(), suffix)
}

// applyCustomerDefaults fills placeholder customer details for guest
// checkouts. The gateway requires all three fields.
func applyCustomerDefaults(req *domain.CreateOrderRequest) {
	if strings.TrimSpace(req.CustomerID) == "" {
		req.CustomerID = "guest_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if strings.TrimSpace(req.CustomerEmail) == "" {
		req.CustomerEmail = "guest@example.com"
	}
	if strings.TrimSpace(req.CustomerPhone) == "" {
		req.CustomerPhone = "9999999999"
	}
}
