package di

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/storyforge/api/internal/payments"
	"github.com/storyforge/api/internal/platform/config"
	"github.com/storyforge/api/internal/repositories"
	pgrepo "github.com/storyforge/api/internal/repositories/postgres"
	"github.com/storyforge/api/internal/services"
)

// Repositories bundles the persistence contracts backing the service layer.
type Repositories struct {
	DB     *pgrepo.DB
	Orders repositories.OrderRepository
	Books  repositories.BookRepository
	Users  repositories.UserRepository
	Health repositories.HealthRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Books      services.BookService
	Orders     services.OrderService
	Checkout   services.CheckoutService
	Users      services.UserService
	Generation services.GenerationDispatcher
	Reconciler services.PaymentReconciler
}

// External collects the outbound collaborators the container cannot build
// itself: the payment gateway, the job queue, and print fulfilment. The
// publisher and fulfiller are optional so the API can boot in degraded mode
// when a worker-only concern is not configured.
type External struct {
	PaymentProvider payments.Provider
	Publisher       services.GenerationPublisher
	Fulfillment     services.PrintFulfiller
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// NewContainer assembles the repository and service graph on top of the
// provided connection pool.
func NewContainer(cfg config.Config, pool *pgxpool.Pool, ext External, logger *zap.Logger) (*Container, error) {
	if pool == nil {
		return nil, errors.New("di: connection pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := pgrepo.NewDB(pool)
	if err != nil {
		return nil, err
	}

	repos := Repositories{
		DB:     db,
		Orders: pgrepo.NewOrderRepository(db),
		Books:  pgrepo.NewBookRepository(db),
		Users:  pgrepo.NewUserRepository(db),
		Health: pgrepo.NewHealthRepository(db),
	}

	svc, err := buildServices(cfg, repos, ext, logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: repos,
		Services:     svc,
	}, nil
}

func buildServices(cfg config.Config, repos Repositories, ext External, logger *zap.Logger) (Services, error) {
	eventLog := EventLogger(logger)

	books, err := services.NewBookService(services.BookServiceDeps{
		Books:      repos.Books,
		Orders:     repos.Orders,
		UnitOfWork: repos.DB,
		Logger:     eventLog,
	})
	if err != nil {
		return Services{}, err
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     repos.Orders,
		Books:      repos.Books,
		UnitOfWork: repos.DB,
		Logger:     eventLog,
	})
	if err != nil {
		return Services{}, err
	}

	users, err := services.NewUserService(services.UserServiceDeps{
		Users:  repos.Users,
		Logger: eventLog,
	})
	if err != nil {
		return Services{}, err
	}

	svc := Services{
		Books:  books,
		Orders: orders,
		Users:  users,
	}

	if ext.PaymentProvider != nil {
		checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:     repos.Orders,
			Books:      repos.Books,
			Provider:   ext.PaymentProvider,
			UnitOfWork: repos.DB,
			SuccessURL: cfg.PSP.SuccessURL,
			CancelURL:  cfg.PSP.CancelURL,
			Lifetime:   cfg.PSP.CheckoutLifetime,
			Logger:     eventLog,
		})
		if err != nil {
			return Services{}, err
		}
		svc.Checkout = checkout

		reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
			Orders:      repos.Orders,
			Provider:    ext.PaymentProvider,
			Fulfillment: ext.Fulfillment,
			Logger:      eventLog,
		})
		if err != nil {
			return Services{}, err
		}
		svc.Reconciler = reconciler
	}

	if ext.Publisher != nil {
		generation, err := services.NewGenerationDispatcher(services.GenerationDispatcherDeps{
			Books:     repos.Books,
			Publisher: ext.Publisher,
			Logger:    eventLog,
		})
		if err != nil {
			return Services{}, err
		}
		svc.Generation = generation
	}

	return svc, nil
}

// EventLogger adapts a zap logger to the event callback the services accept.
func EventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
