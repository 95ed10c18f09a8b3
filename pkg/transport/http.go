package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/clock"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/tools"
)

// HeaderSessionID carries the session id on every request after initialize.
const HeaderSessionID = "Mcp-Session-Id"

const maxBodyBytes = 4 << 20

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Addr is the listen address. Default: "127.0.0.1:8000".
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Default: 30s.
	ShutdownTimeout time.Duration

	// Server is reported in the initialize result.
	Server Implementation

	// Gatherer backs GET /metrics. If nil, the endpoint is not mounted.
	Gatherer prometheus.Gatherer

	// KeepAlive is the interval between comments on an idle GET /mcp
	// stream. Default: 15s.
	KeepAlive time.Duration

	// Clock drives stream keepalives. If nil, uses real time.
	Clock clock.Clock
}

// HTTPServer serves MCP over streamable HTTP with session headers.
type HTTPServer struct {
	dispatcher *tools.Dispatcher
	sessions   *session.Registry
	config     HTTPConfig
	logger     *slog.Logger

	// streams is cancelled when the server shuts down so open GET
	// streams return instead of holding Shutdown until its timeout.
	streams     context.Context
	stopStreams context.CancelFunc
}

// NewHTTPServer creates an HTTP transport.
func NewHTTPServer(dispatcher *tools.Dispatcher, sessions *session.Registry, config HTTPConfig, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:8000"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = 15 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	streams, stopStreams := context.WithCancel(context.Background())
	return &HTTPServer{
		dispatcher:  dispatcher,
		sessions:    sessions,
		config:      config,
		logger:      logger.With(slog.String("component", "http-transport")),
		streams:     streams,
		stopStreams: stopStreams,
	}
}

// Handler returns the HTTP handler with h2c enabled.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", s.handlePost)
	mux.HandleFunc("DELETE /mcp", s.handleDelete)
	mux.HandleFunc("GET /mcp", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.config.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}
	return h2c.NewHandler(mux, &http2.Server{})
}

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled.
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. The session sweeper runs for the lifetime of the server.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(s.stopStreams)

	s.sessions.Start(ctx)
	defer s.sessions.Stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Serve(ln)
	}()

	s.logger.Info("http transport ready", slog.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	<-serverErr
	if err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.logger.Info("http transport stopped")
	return nil
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, jsonrpc.ID{}, codeParseError, "Parse error", nil)
		return
	}

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, jsonrpc.ID{}, codeParseError, "Parse error", nil)
		return
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		s.writeError(w, http.StatusBadRequest, jsonrpc.ID{}, codeInvalidRequest, "Invalid Request", nil)
		return
	}

	if req.Method == "initialize" {
		s.initialize(w, r, req)
		return
	}

	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, sessionMessage(err), &toolError{
			Kind:    "session_invalid",
			Message: err.Error(),
		})
		return
	}
	w.Header().Set(HeaderSessionID, sess.ID)

	if !req.IsCall() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req)
	resp := &jsonrpc.Response{ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &jsonrpc.Error{Code: codeInternalError, Message: "Internal error"}
		} else {
			resp.Result = raw
		}
	}
	s.writeMessage(w, http.StatusOK, resp)
}

var errMissingSession = errors.New("missing session header")

func (s *HTTPServer) session(r *http.Request) (*session.Session, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	if id == "" {
		return nil, fmt.Errorf("%w: %w", session.ErrSessionInvalid, errMissingSession)
	}
	return s.sessions.Touch(id)
}

func sessionMessage(err error) string {
	if errors.Is(err, errMissingSession) {
		return "Missing " + HeaderSessionID + " header"
	}
	return "Invalid or expired session ID"
}

func (s *HTTPServer) initialize(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request) {
	if !req.IsCall() {
		s.writeError(w, http.StatusBadRequest, jsonrpc.ID{}, codeInvalidRequest, "initialize must be a request", nil)
		return
	}

	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(w, http.StatusOK, req.ID, codeInvalidParams, "Invalid params", nil)
			return
		}
	}

	sess := s.sessions.Create(session.ClientInfo{
		Name:            params.ClientInfo.Name,
		Version:         params.ClientInfo.Version,
		ProtocolVersion: params.ProtocolVersion,
		RemoteAddr:      r.RemoteAddr,
	})

	raw, err := json.Marshal(initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    capabilities(),
		ServerInfo:      s.config.Server,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, req.ID, codeInternalError, "Internal error", nil)
		return
	}

	w.Header().Set(HeaderSessionID, sess.ID)
	s.writeMessage(w, http.StatusOK, &jsonrpc.Response{ID: req.ID, Result: raw})
}

func (s *HTTPServer) dispatch(ctx context.Context, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	switch req.Method {
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return map[string]any{"tools": toolDefinitions()}, nil
	case "tools/call":
		return s.callTool(ctx, req.Params)
	case "resources/list":
		return map[string]any{"resources": []any{}}, nil
	case "prompts/list":
		return map[string]any{"prompts": []any{}}, nil
	default:
		return nil, &jsonrpc.Error{Code: codeMethodNotFound, Message: "Method not found: " + req.Method}
	}
}

func (s *HTTPServer) callTool(ctx context.Context, raw json.RawMessage) (any, *jsonrpc.Error) {
	var params toolCallParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &jsonrpc.Error{Code: codeInvalidParams, Message: "Invalid params"}
		}
	}
	if params.Name == "" {
		return nil, &jsonrpc.Error{Code: codeInvalidParams, Message: "Missing tool name"}
	}

	res, err := s.dispatcher.Call(ctx, params.Name, params.Arguments)
	switch {
	case err == nil:
		return textResult(res), nil
	case errors.Is(err, gpu.ErrDeviceNotFound):
		return errorResult(tools.KindDeviceNotFound, err), nil
	case errors.Is(err, tools.ErrUnknownTool):
		return nil, &jsonrpc.Error{Code: codeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found", params.Name)}
	case errors.Is(err, tools.ErrInvalidArguments):
		return nil, &jsonrpc.Error{Code: codeInvalidParams, Message: err.Error()}
	default:
		s.logger.Error("tool execution failed",
			slog.String("tool", params.Name),
			slog.String("error", err.Error()),
		)
		return nil, &jsonrpc.Error{Code: codeInternalError, Message: "Tool execution failed: " + err.Error()}
	}
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	if id == "" {
		s.writeError(w, http.StatusBadRequest, jsonrpc.ID{}, codeInvalidRequest, sessionMessage(errMissingSession), nil)
		return
	}
	if !s.sessions.Terminate(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session terminated successfully"})
}

// handleStream opens the server-to-client SSE stream of a session. The
// server sends no requests of its own, so the stream only carries
// keepalive comments until the client leaves, the session ends or the
// server stops.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "GET /mcp requires Accept: text/event-stream", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, jsonrpc.ID{}, codeInvalidRequest, sessionMessage(err), &toolError{
			Kind:    "session_invalid",
			Message: err.Error(),
		})
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set(HeaderSessionID, sess.ID)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": stream open\n\n")
	flusher.Flush()
	s.logger.Debug("stream opened", slog.String("session_id", sess.ID))

	ticker := s.config.Clock.NewTicker(s.config.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streams.Done():
			return
		case <-ticker.C():
			if _, err := s.sessions.Get(sess.ID); err != nil {
				s.logger.Debug("stream closed, session ended", slog.String("session_id", sess.ID))
				return
			}
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Sessions:  s.sessions.Count(),
		Source:    s.dispatcher.Source().Mode(),
		Version:   s.config.Server.Version,
	})
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, id jsonrpc.ID, code int64, message string, data any) {
	rpcErr := &jsonrpc.Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			rpcErr.Data = raw
		}
	}
	s.writeMessage(w, status, &jsonrpc.Response{ID: id, Error: rpcErr})
}

func (s *HTTPServer) writeMessage(w http.ResponseWriter, status int, msg jsonrpc.Message) {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
