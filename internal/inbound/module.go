// Package inbound is the bounded context for messages leads send us.
// This file wires the module and registers its webhook route.
package inbound

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"autotext_backend/internal/events"
	apphttp "autotext_backend/internal/http"
	"autotext_backend/internal/leads/repository"
	"autotext_backend/platform/config"
	"autotext_backend/platform/logger"
)

// Module is the inbound bounded context implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
}

// NewModule creates and initializes the inbound module.
func NewModule(pool *pgxpool.Pool, bus events.Bus, cfg *config.Config, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := NewService(repo, bus, log, cfg.InboundAutocreate)
	return &Module{
		handler: NewHandler(svc, log),
		service: svc,
	}
}

// Service exposes the inbound service for other composition roots.
func (m *Module) Service() *Service { return m.service }

// Name returns the module identifier.
func (m *Module) Name() string { return "inbound" }

// RegisterRoutes mounts the webhook route.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1)
}
