package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"github.com/clientdossiers/dsync/internal/backend"
)

const maxBodyBytes = 32 << 20

// Handler serves a backend.Backend over HTTP.
type Handler struct {
	backend backend.Backend
	tokens  map[string]backend.Principal
	logger  *log.Logger
	router  *mux.Router
}

// NewHandler creates a Handler. tokens maps bearer tokens to the principal
// each one authenticates; requests with an unknown or missing token reach
// the backend unauthenticated.
func NewHandler(b backend.Backend, tokens map[string]backend.Principal, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[backend] ", log.LstdFlags)
	}
	h := &Handler{
		backend: b,
		tokens:  tokens,
		logger:  logger,
	}
	h.router = h.routes()
	return h
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.authenticate)
	api.HandleFunc("/clients/{clientID}", h.handleClient).Methods("PUT")
	api.HandleFunc("/clients/{clientID}/interventions", h.handleAddIntervention).Methods("POST")
	api.HandleFunc("/clients/{clientID}/interventions/{interventionID}", h.handleUpdateIntervention).Methods("PUT")
	api.HandleFunc("/clients/{clientID}/interventions/{interventionID}", h.handleDeleteIntervention).Methods("DELETE")
	api.HandleFunc("/clients/{clientID}/blacklist", h.handleMarkBlacklisted).Methods("PUT")
	api.HandleFunc("/clients/{clientID}/blacklist", h.handleUnmarkBlacklisted).Methods("DELETE")
	api.HandleFunc("/files", h.handleUpload).Methods("PUT")
	api.HandleFunc("/files/move", h.handleMove).Methods("POST")
	api.HandleFunc("/folders", h.handleCreateFolder).Methods("POST")
	api.HandleFunc("/folders/rename", h.handleRenameFolder).Methods("POST")

	// Route misses carry CodeUnknown, never NOT_FOUND.
	r.NotFoundHandler = routeError(http.StatusNotFound, "no such route")
	r.MethodNotAllowedHandler = routeError(http.StatusMethodNotAllowed, "method not allowed")
	api.NotFoundHandler = r.NotFoundHandler
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	return r
}

func routeError(status int, message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(errorBody{
			Code:    backend.CodeUnknown,
			Message: message + ": " + r.Method + " " + r.URL.Path,
		})
	})
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok {
			if p, known := h.tokens[token]; known {
				r = r.WithContext(backend.WithPrincipal(r.Context(), p))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// pathVar returns the unescaped route variable name.
func pathVar(r *http.Request, name string) string {
	v := mux.Vars(r)[name]
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return backend.Wrap(backend.CodeInvalid, "malformed request body", err)
	}
	return nil
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	body := errorBody{Code: backend.CodeOf(err), Message: err.Error()}
	var be *backend.Error
	if errors.As(err, &be) {
		body.Message = be.Message
	}
	status := statusFor(body.Code)
	if status >= 500 {
		h.logger.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) handleClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decode(r, &req); err != nil {
		h.reply(w, r, err)
		return
	}
	h.reply(w, r, h.backend.CreateOrUpdateClient(r.Context(), pathVar(r, "clientID"), req.Name, req.Address, req.Phone, req.Email))
}

func (h *Handler) handleAddIntervention(w http.ResponseWriter, r *http.Request) {
	var req interventionRequest
	if err := decode(r, &req); err != nil {
		h.reply(w, r, err)
		return
	}
	h.reply(w, r, h.backend.AddIntervention(r.Context(), pathVar(r, "clientID"), req.Comments, req.Media, req.Day, req.Month, req.Year))
}

func (h *Handler) handleUpdateIntervention(w http.ResponseWriter, r *http.Request) {
	var req interventionRequest
	if err := decode(r, &req); err != nil {
		h.reply(w, r, err)
		return
	}
	h.reply(w, r, h.backend.UpdateIntervention(r.Context(), pathVar(r, "interventionID"), pathVar(r, "clientID"),
		req.Comments, req.Media, req.Day, req.Month, req.Year))
}

func (h *Handler) handleDeleteIntervention(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.backend.DeleteIntervention(r.Context(), pathVar(r, "interventionID"), pathVar(r, "clientID")))
}

func (h *Handler) handleMarkBlacklisted(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := decode(r, &req); err != nil {
		h.reply(w, r, err)
		return
	}
	h.reply(w, r, h.backend.MarkAsBlacklisted(r.Context(), pathVar(r, "clientID"), req.Comments, req.Media))
}

func (h *Handler) handleUnmarkBlacklisted(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.backend.UnmarkAsBlacklisted(r.Context(), pathVar(r, "clientID")))
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decode(r, &req); err != nil {
		h.reply(w, r, err)
		return
	}
	h.reply(w, r, h.backend.UploadTechnicalFile(r.Context(), req.Path, req.Blob))
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decode(r, &req); err != nil {
		h.reply(w, r, err)
		return
	}
	h.reply(w, r, h.backend.MoveTechnicalFile(r.Context(), req.OldPath, req.NewPath))
}

func (h *Handler) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decode(r, &req); err != nil {
		h.reply(w, r, err)
		return
	}
	h.reply(w, r, h.backend.CreateFolder(r.Context(), req.Path))
}

func (h *Handler) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decode(r, &req); err != nil {
		h.reply(w, r, err)
		return
	}
	h.reply(w, r, h.backend.RenameFolder(r.Context(), req.OldPath, req.NewName))
}
