// Package leads wires the lead bounded context: repository, service and
// HTTP handlers for lead intake, review actions and conversation history.
package leads

import (
	"autotext_backend/internal/ai"
	"autotext_backend/internal/followup"
	apphttp "autotext_backend/internal/http"
	"autotext_backend/internal/leads/handler"
	"autotext_backend/internal/leads/repository"
	"autotext_backend/internal/leads/service"
	"autotext_backend/internal/sms"
	"autotext_backend/platform/config"
	"autotext_backend/platform/events"
	"autotext_backend/platform/logger"
	"autotext_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module bundles the lead domain dependencies.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule constructs the lead module and subscribes its event handlers.
func NewModule(
	pool *pgxpool.Pool,
	bus events.Bus,
	val *validator.Validator,
	cfg *config.Config,
	log *logger.Logger,
	composer ai.Composer,
	gateway sms.Gateway,
	sched *followup.Scheduler,
	ticker service.DispatchTicker,
) *Module {
	repo := repository.New(pool)
	svc := service.New(service.Params{
		Store:         repo,
		Scheduler:     sched,
		Composer:      composer,
		Gateway:       gateway,
		Bus:           bus,
		Log:           log,
		Ticker:        ticker,
		SendSoonDelay: cfg.GetSendSoonDelay(),
		FromNumber:    cfg.GetTwilioFromNumber(),
	})
	svc.SubscribeScoring(bus)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Service exposes the lead service for other composition-root consumers.
func (m *Module) Service() *service.Service { return m.service }

// Name returns the module identifier.
func (m *Module) Name() string { return "leads" }

// RegisterRoutes mounts the lead routes under /api/v1/leads.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1.Group("/leads"))
}
