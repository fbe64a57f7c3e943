package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/azentyk/voice-appointments/internal/appointments"
	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

// BuildAppointmentRepository opens the Postgres repository, or the in-memory
// one when configured or when no database URL is set outside production.
// The returned pool is nil for the memory backend.
func BuildAppointmentRepository(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (appointments.Repository, *pgxpool.Pool, error) {
	if cfg.AppointmentStore == backendMemory {
		logger.Info("appointment repository ready", "backend", backendMemory)
		return appointments.NewMemoryRepository(), nil, nil
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsProduction() {
			return nil, nil, fmt.Errorf("bootstrap: DATABASE_URL is required in production")
		}
		logger.Warn("DATABASE_URL not set; using in-memory appointment repository")
		return appointments.NewMemoryRepository(), nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("appointment repository ready", "backend", "postgres")
	return appointments.NewPostgresRepository(pool, logger), pool, nil
}
