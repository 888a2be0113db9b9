package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marketbay/api/internal/platform/config"
	"github.com/marketbay/api/internal/repositories"
	"github.com/marketbay/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders        services.OrderService
	Payments      services.PaymentService
	Returns       services.ReturnService
	Notifications services.NotificationService
}

// Deps carries the infrastructure the service layer needs beyond the repositories:
// the payment manager slices and the notification fan-out publisher.
type Deps struct {
	Gateway   services.RedirectGateway
	Converter services.SettlementConverter
	Refunder  services.Refunder
	Publisher services.NotificationEventPublisher
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
		Notifications: reg.Notifications(),
		Publisher:     deps.Publisher,
		Clock:         clock,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}
	svc.Notifications = notificationSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Products:   reg.Products(),
		Coupons:    reg.Coupons(),
		Carts:      reg.Carts(),
		Addresses:  reg.Addresses(),
		Notifier:   notificationSvc,
		UnitOfWork: reg,
		Clock:      clock,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Gateway != nil && deps.Converter != nil {
		assembler, ok := orderSvc.(services.GatewayOrderAssembler)
		if !ok {
			return Services{}, errors.New("order service does not support gateway checkout assembly")
		}
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Assembler: assembler,
			Gateway:   deps.Gateway,
			Converter: deps.Converter,
			Orders:    reg.Orders(),
			Products:  reg.Products(),
			Carts:     reg.Carts(),
			Notifier:  notificationSvc,
			NotifyURL: cfg.Gateway.NotifyURL,
			Clock:     clock,
			Logger:    deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns:  reg.Returns(),
		Orders:   reg.Orders(),
		Refunder: deps.Refunder,
		Notifier: notificationSvc,
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	return svc, nil
}
