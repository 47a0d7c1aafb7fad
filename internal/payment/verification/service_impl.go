package verification

import (
	"context"
	"strings"

	"github.com/shopstack/payflow/internal/config"
	"github.com/shopstack/payflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Tuning     *config.TuningHolder
	Repo       domain.Repository
	Gateway    domain.Gateway
	Reconciler domain.Reconciler
}

type verifier struct {
	db         *gorm.DB
	log        *zap.Logger
	tuning     *config.TuningHolder
	repo       domain.Repository
	gateway    domain.Gateway
	reconciler domain.Reconciler
}

func NewService(p Params) domain.VerificationService {
	return &verifier{
		db:         p.DB,
		log:        p.Log.Named("payment.verification"),
		tuning:     p.Tuning,
		repo:       p.Repo,
		gateway:    p.Gateway,
		reconciler: p.Reconciler,
	}
}

// Verify returns the order's settled state, polling the gateway only when the
// local record is still pending. Terminal orders answer from the store: the
// lifecycle is one-way, so a confirmed or failed order cannot change and the
// poll would be wasted.
func (v *verifier) Verify(ctx context.Context, orderID string) (*domain.ProcessingResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrOrderNotFound
	}

	order, err := v.repo.FindOrder(ctx, v.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	if order.Status.Terminal() && v.tuning.Get().VerifyCacheTerminal {
		return &domain.ProcessingResult{
			OrderID:  order.ID,
			Status:   order.Status,
			Verified: true,
		}, nil
	}

	event, err := v.gateway.GetOrderStatus(ctx, orderID)
	if err != nil {
		v.log.Error("gateway status poll failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, err
	}

	result, err := v.reconciler.Apply(ctx, event)
	if err != nil {
		return result, err
	}
	result.Verified = true
	return result, nil
}
