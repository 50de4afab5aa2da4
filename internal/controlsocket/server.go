package controlsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/acdtunes/fleetd/internal/domain/container"
	"github.com/acdtunes/fleetd/internal/runtime"
	"github.com/acdtunes/fleetd/pkg/utils"
)

// writeChunkSize keeps individual socket writes modest; inspect replies with
// log tails can run to hundreds of KiB.
const writeChunkSize = 32 * 1024

// readLimit caps a single request. Requests are small control messages; a
// client streaming megabytes at the daemon is misbehaving.
const readLimit = 1 * 1024 * 1024

// handlerTimeout bounds one request's processing.
const handlerTimeout = 30 * time.Second

// Server accepts connections on a unix stream socket and serves one
// JSON-RPC request per connection against the container supervisor.
type Server struct {
	path       string
	supervisor *runtime.Supervisor

	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewServer(path string, supervisor *runtime.Supervisor) *Server {
	return &Server{path: path, supervisor: supervisor}
}

// Listen removes any stale socket file, binds, and restricts the socket to
// its owner. It does not start serving; call Serve.
func (s *Server) Listen() error {
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to bind control socket: %w", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	return nil
}

// Serve runs the accept loop until Close. Each connection is handled on its
// own goroutine so one slow operator cannot block another.
func (s *Server) Serve() error {
	if s.listener == nil {
		return fmt.Errorf("server is not listening; call Listen first")
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("control socket accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, waits for in-flight handlers, and unlinks the
// socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	if removeErr := os.RemoveAll(s.path); err == nil {
		err = removeErr
	}
	return err
}

// handleConn reads one request, dispatches it, writes the reply in chunks,
// half-closes the write side, and closes. It deliberately never waits for
// the client to close its end: the reply is complete once written, and a
// stalled reader must not hold the handler hostage.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	resp := s.serveRequest(conn)

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Printf("control socket: failed to marshal reply: %v", err)
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	for len(payload) > 0 {
		n := utils.Min(len(payload), writeChunkSize)
		written, err := conn.Write(payload[:n])
		if err != nil {
			log.Printf("control socket: write failed: %v", err)
			return
		}
		payload = payload[written:]
	}

	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}
}

// serveRequest decodes and dispatches a single request. json.Decoder stops
// as soon as one complete JSON value has been read, so a client that keeps
// its write side open after sending a full request is still served.
func (s *Server) serveRequest(conn net.Conn) *Response {
	var req Request
	decoder := json.NewDecoder(io.LimitReader(conn, readLimit))
	if err := decoder.Decode(&req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			Error:   NewRPCError(CodeParseError, "parse error: %v", err),
			ID:      json.RawMessage("null"),
		}
	}

	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if len(req.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = NewRPCError(CodeInvalidRequest, "invalid request: jsonrpc and method are required")
		return resp
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	switch method {
	case "container.create":
		return s.handleCreate(ctx, params)
	case "container.start":
		return s.handleStart(ctx, params)
	case "container.stop":
		return s.handleStop(ctx, params)
	case "container.remove":
		return s.handleRemove(ctx, params)
	case "container.list":
		return s.handleList(ctx, params)
	case "container.inspect":
		return s.handleInspect(ctx, params)
	default:
		return nil, NewRPCError(CodeMethodNotFound, "method not found: %s", method)
	}
}

func (s *Server) handleCreate(ctx context.Context, raw json.RawMessage) (interface{}, *RPCError) {
	var params CreateParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	if params.PlayerID <= 0 || params.ContainerType == "" {
		return nil, NewRPCError(CodeInvalidParams, "player_id and container_type are required")
	}

	config := params.Config
	if config == nil {
		config = make(map[string]interface{})
	}
	command, _ := config["command"].(string)
	if command == "" {
		command = params.ContainerType
	}
	if params.ContainerID == "" {
		// Operators may omit the ID; derive a readable unique one.
		shipSymbol, _ := config["ship_symbol"].(string)
		params.ContainerID = utils.GenerateContainerID(command, shipSymbol)
	}

	req := runtime.CreateRequest{
		ContainerID:   params.ContainerID,
		PlayerID:      params.PlayerID,
		Command:       command,
		Params:        config,
		RestartPolicy: container.RestartPolicyKind(params.RestartPolicy),
		MaxRestarts:   intConfig(config, "max_restarts", 0),
		MaxIterations: intConfig(config, "iterations", 1),
	}
	if autostart, ok := config["autostart"].(bool); ok {
		req.Autostart = autostart
	}

	entity, err := s.supervisor.Create(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	return &CreateResult{ContainerID: entity.ID(), Status: string(entity.Status())}, nil
}

func (s *Server) handleStart(ctx context.Context, raw json.RawMessage) (interface{}, *RPCError) {
	var params ContainerIDParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	if err := s.supervisor.Start(ctx, params.ContainerID); err != nil {
		return nil, mapError(err)
	}
	return &StatusResult{Status: string(container.ContainerStatusRunning)}, nil
}

func (s *Server) handleStop(ctx context.Context, raw json.RawMessage) (interface{}, *RPCError) {
	var params ContainerIDParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	if err := s.supervisor.Stop(ctx, params.ContainerID); err != nil {
		return nil, mapError(err)
	}
	return &StatusResult{Status: string(container.ContainerStatusStopped)}, nil
}

func (s *Server) handleRemove(ctx context.Context, raw json.RawMessage) (interface{}, *RPCError) {
	var params ContainerIDParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	if err := s.supervisor.Remove(ctx, params.ContainerID); err != nil {
		return nil, mapError(err)
	}
	return &StatusResult{Status: string(container.ContainerStatusRemoved)}, nil
}

func (s *Server) handleList(ctx context.Context, raw json.RawMessage) (interface{}, *RPCError) {
	var params ListParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}

	models, err := s.supervisor.List(ctx, params.PlayerID)
	if err != nil {
		return nil, mapError(err)
	}

	summaries := make([]ContainerSummary, 0, len(models))
	for _, model := range models {
		summaries = append(summaries, ContainerSummary{
			ContainerID:  model.ID,
			Type:         model.Kind,
			Command:      model.Command,
			Status:       model.Status,
			Iteration:    model.CurrentIteration,
			RestartCount: model.RestartCount,
			CreatedAt:    formatTime(model.StartedAt),
		})
	}
	return summaries, nil
}

func (s *Server) handleInspect(ctx context.Context, raw json.RawMessage) (interface{}, *RPCError) {
	var params InspectParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}

	inspected, err := s.supervisor.Inspect(ctx, params.ContainerID, params.IncludeLogs, params.LogLimit)
	if err != nil {
		return nil, mapError(err)
	}

	model := inspected.Model
	var config map[string]interface{}
	if model.Params != "" {
		_ = json.Unmarshal([]byte(model.Params), &config)
	}

	result := &InspectResult{
		ContainerID:   model.ID,
		PlayerID:      model.PlayerID,
		Type:          model.Kind,
		Command:       model.Command,
		Status:        model.Status,
		Iteration:     model.CurrentIteration,
		MaxIterations: model.MaxIterations,
		RestartPolicy: model.RestartPolicyKind,
		RestartCount:  model.RestartCount,
		Config:        config,
		StartedAt:     formatTime(model.StartedAt),
		StoppedAt:     formatTime(model.StoppedAt),
		ExitReason:    model.ExitReason,
	}
	for _, entry := range inspected.Logs {
		result.Logs = append(result.Logs, LogEntry{
			Sequence:  entry.ID,
			Timestamp: entry.Timestamp.UTC().Format(time.RFC3339Nano),
			Level:     entry.Level,
			Message:   entry.Message,
		})
	}
	return result, nil
}

func unmarshalParams(raw json.RawMessage, out interface{}) *RPCError {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewRPCError(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

// mapError converts supervisor errors into the protocol's error codes. The
// message never includes anything beyond the error text - tokens and
// credentials do not flow through these errors.
func mapError(err error) *RPCError {
	switch {
	case errors.Is(err, runtime.ErrContainerNotFound):
		return NewRPCError(CodeContainerNotFound, "%v", err)
	case errors.Is(err, runtime.ErrContainerExists):
		return NewRPCError(CodeContainerExists, "%v", err)
	case errors.Is(err, runtime.ErrInvalidState), errors.Is(err, runtime.ErrShipUnavailable):
		return NewRPCError(CodeInvalidState, "%v", err)
	case errors.Is(err, runtime.ErrUnknownCommand):
		return NewRPCError(CodeInvalidParams, "%v", err)
	default:
		return NewRPCError(CodeInternalError, "%v", err)
	}
}

func intConfig(config map[string]interface{}, key string, fallback int) int {
	switch value := config[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return fallback
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
