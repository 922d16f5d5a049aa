package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"camwatch/internal/daemon"
	"camwatch/internal/device"
	"camwatch/internal/logging"
	"camwatch/internal/presentation"
	"camwatch/internal/services"
)

// maxEventWait caps how long an Events call may block.
const maxEventWait = 30 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "CLI commands may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connections still
// open are served until their clients hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// request tags a call with a fresh request id for log correlation.
func (s *service) request(method string) (context.Context, *slog.Logger) {
	id := uuid.NewString()
	ctx := services.WithRequestID(s.ctx, id)
	logger := s.logger.With(logging.String(logging.FieldRequestID, id))
	logger.Debug("ipc request", logging.String("method", method))
	return ctx, logger
}

func parseDevice(value string) (device.ID, error) {
	id, err := device.ParseID(value)
	if err != nil {
		return device.ID{}, services.Wrap(services.ErrValidation, "ipc", "parse device", err.Error(), nil)
	}
	return id, nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	ctx, _ := s.request("Status")
	resp.Status = s.daemon.Status(ctx)
	return nil
}

func (s *service) Devices(_ DevicesRequest, resp *DevicesResponse) error {
	ctx, _ := s.request("Devices")
	views, err := s.daemon.Devices(ctx)
	if err != nil {
		return err
	}
	resp.Devices = views
	return nil
}

func (s *service) Device(req DeviceRequest, resp *DeviceResponse) error {
	id, err := parseDevice(req.Device)
	if err != nil {
		return err
	}
	ctx, _ := s.request("Device")
	view, err := s.daemon.Device(ctx, id)
	if err != nil {
		return err
	}
	resp.Device = view
	return nil
}

func (s *service) Files(req DeviceRequest, resp *FilesResponse) error {
	id, err := parseDevice(req.Device)
	if err != nil {
		return err
	}
	ctx, _ := s.request("Files")
	files, err := s.daemon.Files(ctx, id)
	if err != nil {
		return err
	}
	resp.Device = id.String()
	resp.Files = files
	return nil
}

func (s *service) Transfer(req TransferRequest, resp *ActionResponse) error {
	action := presentation.ActionCopy
	if req.Move {
		action = presentation.ActionMove
	}
	return s.act(action, req.Device, resp, func(ctx context.Context, id device.ID) (string, error) {
		return "", s.daemon.RequestTransfer(ctx, id, req.Move)
	})
}

func (s *service) Confirm(req DeviceRequest, resp *ActionResponse) error {
	return s.act(presentation.ActionConfirm, req.Device, resp, s.daemon.Confirm)
}

func (s *service) Decline(req DeviceRequest, resp *ActionResponse) error {
	return s.act(presentation.ActionDecline, req.Device, resp, func(ctx context.Context, id device.ID) (string, error) {
		return "", s.daemon.Decline(ctx, id)
	})
}

func (s *service) Cancel(req DeviceRequest, resp *ActionResponse) error {
	return s.act(presentation.ActionCancel, req.Device, resp, func(ctx context.Context, id device.ID) (string, error) {
		return "", s.daemon.Cancel(ctx, id)
	})
}

func (s *service) Ack(req DeviceRequest, resp *ActionResponse) error {
	return s.act(presentation.ActionAck, req.Device, resp, func(ctx context.Context, id device.ID) (string, error) {
		return "", s.daemon.Ack(ctx, id)
	})
}

// act runs a device action and reports the state the camera landed in.
func (s *service) act(action, value string, resp *ActionResponse, fn func(context.Context, device.ID) (string, error)) error {
	id, err := parseDevice(value)
	if err != nil {
		return err
	}
	ctx, logger := s.request(action)
	jobID, err := fn(ctx, id)
	if err != nil {
		logger.Debug("device action rejected",
			logging.String(logging.FieldDevice, id.String()),
			logging.String("action", action),
			logging.Error(err))
		return err
	}
	resp.Device = id.String()
	resp.Action = action
	resp.JobID = jobID
	if view, err := s.daemon.Device(ctx, id); err == nil {
		resp.State = view.State
	}
	logger.Info("device action accepted",
		logging.String(logging.FieldEventType, "ipc_device_action"),
		logging.String(logging.FieldDevice, id.String()),
		logging.String("action", action))
	return nil
}

func (s *service) Refresh(_ RefreshRequest, resp *RefreshResponse) error {
	ctx, _ := s.request("Refresh")
	if err := s.daemon.Refresh(ctx); err != nil {
		return err
	}
	resp.Devices = s.daemon.Status(ctx).Devices
	return nil
}

func (s *service) DestinationGet(req DeviceRequest, resp *DestinationResponse) error {
	id, err := parseDevice(req.Device)
	if err != nil {
		return err
	}
	ctx, _ := s.request("DestinationGet")
	path, err := s.daemon.Destination(ctx, id)
	if err != nil {
		return err
	}
	resp.Device = id.String()
	resp.Path = path
	return nil
}

func (s *service) DestinationSet(req DestinationSetRequest, resp *DestinationResponse) error {
	id, err := parseDevice(req.Device)
	if err != nil {
		return err
	}
	ctx, logger := s.request("DestinationSet")
	if err := s.daemon.SetDestination(ctx, id, req.Path); err != nil {
		return err
	}
	path, err := s.daemon.Destination(ctx, id)
	if err != nil {
		return err
	}
	resp.Device = id.String()
	resp.Path = path
	logger.Info("destination updated",
		logging.String(logging.FieldEventType, "ipc_destination_set"),
		logging.String(logging.FieldDevice, id.String()),
		logging.String("destination", path))
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	ctx, _ := s.request("History")
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	records, err := s.daemon.History(ctx, limit)
	if err != nil {
		return err
	}
	resp.Records = records
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	ctx, _ := s.request("Events")
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait > maxEventWait {
		wait = maxEventWait
	}
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	events, next, err := s.daemon.Events(ctx, req.Since, req.Limit, wait > 0)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	resp.Events = events
	resp.Next = next
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	ctx, _ := s.request("TestNotification")
	sent, message, err := s.daemon.TestNotification(ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
