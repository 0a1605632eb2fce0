package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/kuitang/user-notes/internal/errs"
	"github.com/kuitang/user-notes/internal/guard"
	"github.com/kuitang/user-notes/internal/obs"
	"github.com/kuitang/user-notes/internal/users"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler wraps the users service and provides HTTP handlers
type Handler struct {
	users *users.Service
}

// NewHandler creates a new API handler with the given users service
func NewHandler(svc *users.Service) *Handler {
	return &Handler{users: svc}
}

// RegisterRoutes registers the users and notes routes on mux. wrap is applied
// to every route handler and may be nil.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, wrap(fn))
	}

	handle("POST /users", h.CreateUser)
	handle("GET /users", h.ListUsers)
	handle("PATCH /users/{cpf}", h.UpdateUser)
	handle("DELETE /users/{cpf}", h.DeleteUser)
	handle("POST /users/{cpf}/notes", h.AddNote)
	handle("GET /users/{cpf}/notes", h.ListNotes)
	handle("PATCH /users/{cpf}/notes/{id}", h.UpdateNote)
	handle("DELETE /users/{cpf}/notes/{id}", h.DeleteNote)
	handle("GET /users/{cpf}/notes/{id}/html", h.RenderNote)
}

// CreateUser handles POST /users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := h.users.CreateUser(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ListUsers handles GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.users.ListUsers(r.Context()))
}

// UpdateUser handles PATCH /users/{cpf}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := h.users.UpdateUser(r.Context(), r.PathValue("cpf"), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /users/{cpf}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.DeleteUser(r.Context(), r.PathValue("cpf")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddNote handles POST /users/{cpf}/notes
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	added, err := h.users.AddNote(r.Context(), r.PathValue("cpf"), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

// ListNotes handles GET /users/{cpf}/notes
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.users.ListNotes(r.Context(), r.PathValue("cpf"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// UpdateNote handles PATCH /users/{cpf}/notes/{id}
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	note, err := h.users.UpdateNote(r.Context(), r.PathValue("cpf"), r.PathValue("id"), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /users/{cpf}/notes/{id}
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.users.DeleteNote(r.Context(), r.PathValue("cpf"), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderNote handles GET /users/{cpf}/notes/{id}/html
func (h *Handler) RenderNote(w http.ResponseWriter, r *http.Request) {
	page, err := h.users.RenderNote(r.Context(), r.PathValue("cpf"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// Health serves GET /healthz. It reports unavailable once draining starts so
// load balancers stop routing new requests during shutdown.
type Health struct {
	draining atomic.Bool
}

// Drain marks the server as shutting down.
func (h *Health) Drain() {
	h.draining.Store(true)
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeServiceError(w, r, errs.New(errs.Unavailable, errs.MsgUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readBody parses the request body as a JSON object. An empty body is {}.
func readBody(w http.ResponseWriter, r *http.Request) (guard.Body, error) {
	if r.Body == nil {
		return guard.Body{}, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errs.Wrap(errs.PayloadTooLarge, errs.MsgBodyTooLarge, err)
		}
		return nil, errs.InvalidFields(err)
	}
	if len(data) == 0 {
		return guard.Body{}, nil
	}

	var body guard.Body
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errs.InvalidFields(err)
	}
	if body == nil {
		// "null"
		return nil, errs.InvalidFields(errors.New("body must be a JSON object"))
	}
	return body, nil
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps a coded error to its status. Coded errors are left
// to the access log; untyped ones are logged here.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	if code == errs.Internal {
		obs.From(r.Context()).With("pkg", "api").Error("request_failed", "method", r.Method, "route", obs.Route(r), "error", err)
	}
	writeError(w, status, errs.MessageOf(err))
}
