// ABOUTME: Liveness/readiness endpoints and gRPC health status publication
// ABOUTME: Each host maps to a "host/<id>" gRPC health service name

package gateway

import (
	"fmt"
	"net/http"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-hostd/internal/host"
)

// HostServiceName is the gRPC health service name for a host.
func HostServiceName(hostID int64) string {
	return fmt.Sprintf("host/%d", hostID)
}

// publishHealth mirrors a host status change into the gRPC health server.
func (g *Gateway) publishHealth(hostID int64, status host.Status) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if status == host.StatusUp || status == host.StatusMaintenance {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(HostServiceName(hostID), serving)

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if g.manager.ConnectedCount() > 0 {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", overall)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one host is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.manager.ConnectedCount()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no hosts connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d hosts)", n)
}
