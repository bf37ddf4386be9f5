package commander

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Health serves grpc.health.v1 for the controller. The overall status
// follows the store: SERVING while the database answers pings.
type Health struct {
	db     *DB
	server *health.Server
}

func NewHealth(db *DB) *Health {
	h := &Health{db: db, server: health.NewServer()}
	h.server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	return h
}

func (h *Health) Register(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.server)
}

// Check pings the store once and updates the serving status.
func (h *Health) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := h.db.Ping(ctx); err != nil {
		log.Printf("Database unhealthy: %v", err)
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
}

// Run re-checks the store every interval until ctx is cancelled.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING permanently.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}
