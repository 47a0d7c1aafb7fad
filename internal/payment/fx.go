package payment

import (
	"github.com/shopstack/payflow/internal/gateway/cashfree"
	"github.com/shopstack/payflow/internal/payment/domain"
	"github.com/shopstack/payflow/internal/payment/repository"
	"github.com/shopstack/payflow/internal/payment/service"
	"github.com/shopstack/payflow/internal/payment/session"
	"github.com/shopstack/payflow/internal/payment/verification"
	"github.com/shopstack/payflow/internal/payment/webhook"
	"go.uber.org/fx"
)

// Module wires the payment domain: gateway client, order/event repository,
// the event reconciler, and the three entry-point services.
var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(cashfree.NewClient),
	fx.Provide(
		fx.Annotate(service.NewService, fx.As(new(domain.Reconciler))),
	),
	fx.Provide(session.NewService),
	fx.Provide(webhook.NewService),
	fx.Provide(verification.NewService),
)
