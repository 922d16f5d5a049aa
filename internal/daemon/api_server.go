package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"camwatch/internal/config"
	"camwatch/internal/device"
	"camwatch/internal/logging"
	"camwatch/internal/presentation"
	"camwatch/internal/services"
	"camwatch/internal/settings"
	"camwatch/internal/transfer"
)

// Long-poll requests return before the server's write timeout.
const eventPollWindow = 25 * time.Second

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// DestinationRequest is the body of PUT /api/devices/{device}/destination.
type DestinationRequest struct {
	Path string `json:"path"`
}

// ActionResponse reports the outcome of a device action.
type ActionResponse struct {
	Device string `json:"device"`
	Action string `json:"action"`
	JobID  string `json:"job_id,omitempty"`
}

// EventsResponse is a page of presentation events.
type EventsResponse struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}
	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", authMiddleware(s.token, s.handleStatus))
	mux.HandleFunc("GET /api/devices", authMiddleware(s.token, s.handleDevices))
	mux.HandleFunc("GET /api/devices/{device}", authMiddleware(s.token, s.handleDevice))
	mux.HandleFunc("GET /api/devices/{device}/files", authMiddleware(s.token, s.handleFiles))
	mux.HandleFunc("POST /api/devices/{device}/actions/{action}", authMiddleware(s.token, s.handleAction))
	mux.HandleFunc("GET /api/devices/{device}/destination", authMiddleware(s.token, s.handleDestination))
	mux.HandleFunc("PUT /api/devices/{device}/destination", authMiddleware(s.token, s.handleSetDestination))
	mux.HandleFunc("POST /api/refresh", authMiddleware(s.token, s.handleRefresh))
	mux.HandleFunc("GET /api/history", authMiddleware(s.token, s.handleHistory))
	mux.HandleFunc("GET /api/events", authMiddleware(s.token, s.handleEvents))
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	views, err := s.daemon.Devices(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if views == nil {
		views = []DeviceView{}
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	view, err := s.daemon.Device(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	files, err := s.daemon.Files(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, files)
}

func (s *apiServer) handleAction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	action := r.PathValue("action")
	resp := ActionResponse{Device: id.String(), Action: action}
	var err error
	switch action {
	case presentation.ActionCopy:
		err = s.daemon.RequestTransfer(r.Context(), id, false)
	case presentation.ActionMove:
		err = s.daemon.RequestTransfer(r.Context(), id, true)
	case presentation.ActionConfirm:
		resp.JobID, err = s.daemon.Confirm(r.Context(), id)
	case presentation.ActionDecline:
		err = s.daemon.Decline(r.Context(), id)
	case presentation.ActionCancel:
		err = s.daemon.Cancel(r.Context(), id)
	case presentation.ActionAck:
		err = s.daemon.Ack(r.Context(), id)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleDestination(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	destination, err := s.daemon.Destination(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, DestinationRequest{Path: destination})
}

func (s *apiServer) handleSetDestination(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	var req DestinationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.daemon.SetDestination(r.Context(), id, req.Path); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Refresh(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	records, err := s.daemon.History(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if records == nil {
		records = []settings.TransferRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if isWebSocketRequest(r) {
		s.serveEventStream(w, r)
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")

	ctx := r.Context()
	if follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eventPollWindow)
		defer cancel()
	}
	events, next, err := s.daemon.Events(ctx, since, limit, follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []Event{}
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{Events: events, Next: next})
}

func (s *apiServer) deviceID(w http.ResponseWriter, r *http.Request) (device.ID, bool) {
	id, err := device.ParseID(r.PathValue("device"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return device.ID{}, false
	}
	return id, true
}

// writeFailure maps classified errors onto HTTP status codes.
func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, transfer.ErrBusy),
		errors.Is(err, transfer.ErrNoFiles),
		errors.Is(err, transfer.ErrNoDestination):
		status = http.StatusConflict
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusServiceUnavailable
	case errors.Is(err, services.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, services.ErrExternalTool):
		status = http.StatusBadGateway
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
