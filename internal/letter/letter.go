// Package letter reserves the letter-archive surface: incoming letters,
// outgoing letters, and dispositions. The routes are registered and guarded
// so clients can integrate against them, but the business logic is still
// being migrated off the legacy archive system.
package letter

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/danuarta/archive-management/internal/transport"
	"github.com/danuarta/archive-management/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	resource string
}

func NewIncomingHandler() *Handler { return newHandler("incoming letter") }

func NewOutgoingHandler() *Handler { return newHandler("outgoing letter") }

func NewDispositionHandler() *Handler { return newHandler("disposition") }

func newHandler(resource string) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.L()),
		resource:    resource,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	h.placeholder(w, fmt.Sprintf("creates a new %s", h.resource))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.placeholder(w, fmt.Sprintf("returns all %s records", h.resource))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.placeholder(w, fmt.Sprintf("returns %s #%s", h.resource, h.id(r)))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	h.placeholder(w, fmt.Sprintf("updates %s #%s", h.resource, h.id(r)))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.placeholder(w, fmt.Sprintf("removes %s #%s", h.resource, h.id(r)))
}

func (h *Handler) placeholder(w http.ResponseWriter, action string) {
	h.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "this action " + action,
	})
}

func (h *Handler) id(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return "0"
	}
	return raw
}
