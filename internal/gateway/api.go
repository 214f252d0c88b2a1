// ABOUTME: HTTP API handlers for inspecting hosts and dispatching commands to them.
// ABOUTME: Routes use Go 1.22 method patterns with {id} path values.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-hostd/internal/attache"
	"github.com/2389/coven-hostd/internal/command"
	"github.com/2389/coven-hostd/internal/host"
	"github.com/2389/coven-hostd/internal/manager"
	"github.com/2389/coven-hostd/internal/workerpool"
)

const (
	// commandTimeout bounds how long a synchronous command request may wait.
	commandTimeout = 30 * time.Second

	defaultListLimit = 50
	maxBodyBytes     = 1 << 20
)

// HostResponse is the JSON representation of a host.
type HostResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	Maintenance  bool    `json:"maintenance"`
	Connected    bool    `json:"connected"`
	PendingTasks int     `json:"pending_tasks"`
	LastPing     *string `json:"last_ping,omitempty"`
	ConnectedAt  *string `json:"connected_at,omitempty"`
	UpdatedAt    string  `json:"updated_at"`
}

// CommandsRequest is the JSON request body for POST /api/hosts/{id}/commands.
type CommandsRequest struct {
	Commands    []json.RawMessage `json:"commands"`
	StopOnError bool              `json:"stop_on_error"`
}

// CommandsResponse is the JSON response for POST /api/hosts/{id}/commands.
type CommandsResponse struct {
	HostID    int64            `json:"host_id"`
	Sequence  int64            `json:"sequence"`
	Succeeded bool             `json:"succeeded"`
	Answers   []command.Answer `json:"answers"`
}

// CronResponse is the JSON response for POST /api/hosts/{id}/cron.
type CronResponse struct {
	HostID   int64 `json:"host_id"`
	Sequence int64 `json:"sequence"`
	Interval int   `json:"interval"`
}

// PasswordRequest is the JSON request body for POST /api/hosts/{id}/password.
type PasswordRequest struct {
	Username    string `json:"username"`
	NewPassword string `json:"new_password"`
}

// DisconnectRequest is the JSON request body for POST /api/hosts/{id}/disconnect.
type DisconnectRequest struct {
	Event string `json:"event,omitempty"`
}

// EventResponse is the JSON representation of a host event.
type EventResponse struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ResultResponse is the JSON representation of a persisted command result.
type ResultResponse struct {
	ID        string `json:"id"`
	Sequence  int64  `json:"sequence"`
	Command   string `json:"command"`
	Result    bool   `json:"result"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at"`
}

// PoolResponse is the JSON response for GET /api/pool.
type PoolResponse struct {
	workerpool.Stats
	Hosts int   `json:"hosts"`
	Leaks int64 `json:"leaks"`
}

// registerAPIRoutes registers every /api route on mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/hosts", g.handleListHosts)
	mux.HandleFunc("GET /api/hosts/{id}", g.handleGetHost)
	mux.HandleFunc("POST /api/hosts/{id}/commands", g.handleCommands)
	mux.HandleFunc("POST /api/hosts/{id}/cron", g.handleCron)
	mux.HandleFunc("POST /api/hosts/{id}/password", g.handlePassword)
	mux.HandleFunc("POST /api/hosts/{id}/connect", g.handleConnect)
	mux.HandleFunc("POST /api/hosts/{id}/disconnect", g.handleDisconnect)
	mux.HandleFunc("GET /api/hosts/{id}/events", g.handleEvents)
	mux.HandleFunc("GET /api/hosts/{id}/results", g.handleResults)
	mux.HandleFunc("GET /api/pool", g.handlePool)
}

// handleListHosts handles GET /api/hosts requests.
func (g *Gateway) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := g.manager.ListHosts(r.Context())
	if err != nil {
		g.logger.Error("failed to list hosts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list hosts")
		return
	}

	response := make([]HostResponse, 0, len(hosts))
	for _, h := range hosts {
		response = append(response, toHostResponse(h))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGetHost handles GET /api/hosts/{id} requests.
func (g *Gateway) handleGetHost(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}

	h, err := g.manager.GetHost(r.Context(), id)
	if err != nil {
		g.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHostResponse(h))
}

// handleCommands handles POST /api/hosts/{id}/commands requests.
// The request blocks until the host answers or commandTimeout expires.
func (g *Gateway) handleCommands(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}

	var req CommandsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Commands) == 0 {
		writeError(w, http.StatusBadRequest, "commands must not be empty")
		return
	}

	cmds, err := command.DecodeAll(req.Commands)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	resp, err := g.manager.Send(ctx, id, cmds, req.StopOnError)
	if err != nil {
		g.writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CommandsResponse{
		HostID:    resp.HostID,
		Sequence:  resp.Sequence,
		Succeeded: resp.Succeeded(),
		Answers:   resp.Answers,
	})
}

// handleCron handles POST /api/hosts/{id}/cron requests.
// The body is a single cron command object.
func (g *Gateway) handleCron(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	cmd, err := command.Decode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cron, ok := cmd.(command.CronCommand)
	if !ok {
		writeError(w, http.StatusBadRequest, cmd.Type()+" is not a cron command")
		return
	}

	seq, err := g.manager.Schedule(id, cron)
	if err != nil {
		g.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CronResponse{HostID: id, Sequence: seq, Interval: cron.Interval()})
}

// handlePassword handles POST /api/hosts/{id}/password requests.
func (g *Gateway) handlePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}

	var req PasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "username and new_password are required")
		return
	}

	err := g.manager.UpdatePassword(id, &command.UpdatePasswordCommand{Username: req.Username, NewPassword: req.NewPassword})
	if err != nil {
		g.writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnect handles POST /api/hosts/{id}/connect requests.
// The host must be configured; any current attache is replaced.
func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}

	hc, ok := g.hostConfig(id)
	if !ok {
		writeError(w, http.StatusNotFound, "host is not configured")
		return
	}
	if err := g.connectHost(r.Context(), hc); err != nil {
		g.writeManagerError(w, err)
		return
	}

	h, err := g.manager.GetHost(r.Context(), id)
	if err != nil {
		g.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHostResponse(h))
}

// handleDisconnect handles POST /api/hosts/{id}/disconnect requests.
// An empty body disconnects with the shutdown_requested event. Only events
// that end a session are accepted.
func (g *Gateway) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}

	var req DisconnectRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	event := host.EventShutdownRequested
	if req.Event != "" {
		event = host.Event(req.Event)
	}
	if !event.IsDisconnect() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("event %q does not disconnect a host", req.Event))
		return
	}

	if err := g.manager.Disconnect(r.Context(), id, event); err != nil {
		g.writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents handles GET /api/hosts/{id}/events?limit=N requests.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}
	limit, ok := listLimit(w, r)
	if !ok {
		return
	}

	events, err := g.store.ListEvents(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("failed to list events", "host_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	response := make([]EventResponse, 0, len(events))
	for _, e := range events {
		response = append(response, EventResponse{
			ID:        e.ID,
			Event:     string(e.Event),
			Status:    string(e.Status),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// handleResults handles GET /api/hosts/{id}/results?limit=N requests.
func (g *Gateway) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}
	limit, ok := listLimit(w, r)
	if !ok {
		return
	}

	results, err := g.store.ListCommandResults(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("failed to list command results", "host_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list command results")
		return
	}

	response := make([]ResultResponse, 0, len(results))
	for _, res := range results {
		response = append(response, ResultResponse{
			ID:        res.ID,
			Sequence:  res.Sequence,
			Command:   res.Command,
			Result:    res.Result,
			Details:   res.Details,
			CreatedAt: res.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// handlePool handles GET /api/pool requests.
func (g *Gateway) handlePool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PoolResponse{
		Stats: g.manager.PoolStats(),
		Hosts: g.manager.ConnectedCount(),
		Leaks: g.manager.Leaks(),
	})
}

// writeManagerError maps manager errors onto HTTP status codes.
func (g *Gateway) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrHostNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, manager.ErrCronCommand), errors.Is(err, manager.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, attache.ErrCommandFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, attache.ErrAgentUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timed out waiting for host")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		g.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func toHostResponse(h *manager.HostInfo) HostResponse {
	resp := HostResponse{
		ID:           h.ID,
		Name:         h.Name,
		Status:       string(h.Status),
		Maintenance:  h.Maintenance,
		Connected:    h.Connected,
		PendingTasks: h.PendingTasks,
		UpdatedAt:    h.UpdatedAt.Format(time.RFC3339),
	}
	if h.LastPing != nil {
		s := h.LastPing.Format(time.RFC3339)
		resp.LastPing = &s
	}
	if h.ConnectedAt != nil {
		s := h.ConnectedAt.Format(time.RFC3339)
		resp.ConnectedAt = &s
	}
	return resp
}

// hostID parses the {id} path value, writing a 400 on failure.
func hostID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid host id")
		return 0, false
	}
	return id, true
}

// listLimit parses the optional limit query parameter.
func listLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return limit, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
