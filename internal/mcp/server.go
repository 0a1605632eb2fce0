package mcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kuitang/user-notes/internal/logutil"
	"github.com/kuitang/user-notes/internal/obs"
	"github.com/kuitang/user-notes/internal/users"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with user and note tools.
type Server struct {
	httpHandler http.Handler
}

const (
	maxMCPBodyBytes           = 1 << 20
	mcpDebugBodyLogLimitBytes = 8 * 1024
	mcpPanicLogLimitChars     = 512
)

type mcpResponseLogger struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        []byte
	truncated   bool
}

func newMCPResponseLogger(w http.ResponseWriter) *mcpResponseLogger {
	return &mcpResponseLogger{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           make([]byte, 0, mcpDebugBodyLogLimitBytes),
	}
}

func (w *mcpResponseLogger) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *mcpResponseLogger) Write(p []byte) (int, error) {
	w.wroteHeader = true
	if len(w.body) < mcpDebugBodyLogLimitBytes {
		remaining := mcpDebugBodyLogLimitBytes - len(w.body)
		if len(p) <= remaining {
			w.body = append(w.body, p...)
		} else {
			w.body = append(w.body, p[:remaining]...)
			w.truncated = true
		}
	} else {
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}

func (w *mcpResponseLogger) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// NewServer creates a new MCP server exposing the users service.
func NewServer(svc *users.Service) *Server {
	handler := NewHandler(svc)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "user-notes",
			Version: "1.0.0",
		},
		nil,
	)

	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	// Stateless: every POST carries a complete JSON-RPC exchange, so no
	// session survives between requests.
	httpHandler := mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			Stateless:    true,
		},
	)

	return &Server{httpHandler: httpHandler}
}

// ServeHTTP implements http.Handler for the Streamable HTTP transport.
//
// Only POST (client messages) and DELETE are served. GET would open a
// server-initiated SSE stream, which a stateless server never uses.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Mcp-Protocol-Version")
	w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost, http.MethodDelete:
	default:
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		writeRPCError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	logger := obs.From(r.Context()).With("pkg", "mcp")
	debug := logger.Enabled(r.Context(), slog.LevelDebug)

	var reqBody []byte
	if r.Body != nil && r.Method == http.MethodPost {
		var err error
		reqBody, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxMCPBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				logger.Warn("mcp_request_too_large", "limit_bytes", maxMCPBodyBytes)
				writeRPCError(w, http.StatusRequestEntityTooLarge, ErrorCodeInvalidRequest, "request body too large")
				return
			}
			logger.Error("mcp_request_read_failed", "error", err)
			writeRPCError(w, http.StatusBadRequest, ErrorCodeParseError, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	if debug {
		logger.Debug("mcp_request",
			"method", r.Method,
			"headers", logutil.FormatHeadersForLog(r.Header),
			"body", bodyForLog(r.Header.Get("Content-Type"), reqBody, false),
		)
	}

	respLogger := newMCPResponseLogger(w)
	s.serveRecovered(respLogger, r, logger)

	if !respLogger.wroteHeader {
		logger.Error("mcp_no_response")
		writeRPCError(w, http.StatusInternalServerError, ErrorCodeInternalError, "MCP handler returned without writing response")
		return
	}

	if debug {
		logger.Debug("mcp_response",
			"status", respLogger.statusCode,
			"body", bodyForLog(respLogger.Header().Get("Content-Type"), respLogger.body, respLogger.truncated),
		)
	}
	if respLogger.statusCode >= http.StatusBadRequest {
		logger.Warn("mcp_request_failed",
			"status", respLogger.statusCode,
			"response", bodyForLog(respLogger.Header().Get("Content-Type"), respLogger.body, respLogger.truncated),
		)
	}
}

// serveRecovered delegates to the SDK handler, turning a panic into a 500
// when nothing has been written yet.
func (s *Server) serveRecovered(w *mcpResponseLogger, r *http.Request, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("mcp_handler_panic", "panic", logutil.RedactCPF(logutil.TruncateForLog(fmt.Sprint(rec), mcpPanicLogLimitChars)))
			if !w.wroteHeader {
				writeRPCError(w, http.StatusInternalServerError, ErrorCodeInternalError, "Internal server error")
			}
		}
	}()
	s.httpHandler.ServeHTTP(w, r)
}

// bodyForLog redacts sensitive JSON fields and any CPF embedded in text,
// such as the JSON inside a tool result.
func bodyForLog(contentType string, body []byte, truncated bool) string {
	return logutil.RedactCPF(logutil.FormatBodyForLog(contentType, body, mcpDebugBodyLogLimitBytes, truncated))
}

func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(marshalToolJSON(MCPErrorResponse(nil, code, message))))
}
