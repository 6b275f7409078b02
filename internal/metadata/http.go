package metadata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sukirti1329/s3-system/internal/shared/httpx"
)

// Handler serves the read side of the metadata service plus rollback.
type Handler struct {
	Log     *slog.Logger
	Service *Service
}

func (h *Handler) Register(mux *http.ServeMux) {
	httpx.Handle(mux, "GET /objects", h.listObjects)
	httpx.Handle(mux, "GET /objects/{objectID}", h.getObject)
	httpx.Handle(mux, "GET /objects/{objectID}/versions", h.listVersions)
	httpx.Handle(mux, "GET /objects/{objectID}/versions/active", h.activeVersion)
	httpx.Handle(mux, "POST /objects/{objectID}/versions/{version}/rollback", h.rollback)
}

func (h *Handler) getObject(w http.ResponseWriter, r *http.Request) {
	md, err := h.Service.GetMetadata(r.Context(), r.PathValue("objectID"))
	if err != nil {
		h.fail(w, r, "object_get_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, md)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	vs, err := h.Service.ListVersions(r.Context(), r.PathValue("objectID"))
	if err != nil {
		h.fail(w, r, "versions_list_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, vs)
}

func (h *Handler) activeVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.ActiveVersion(r.Context(), r.PathValue("objectID"))
	if err != nil {
		h.fail(w, r, "active_version_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || n < 1 {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "version must be a positive integer")
		return
	}
	v, err := h.Service.Rollback(r.Context(), r.PathValue("objectID"), n)
	if err != nil {
		h.fail(w, r, "version_rollback_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

// listObjects requires owner or tag. With a tag it searches, optionally within
// one owner; otherwise it lists the owner's objects.
func (h *Handler) listObjects(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	tag := strings.TrimSpace(r.URL.Query().Get("tag"))

	var (
		out []Metadata
		err error
	)
	switch {
	case tag != "":
		out, err = h.Service.SearchByTag(r.Context(), owner, tag)
	case owner != "":
		out, err = h.Service.ListByOwner(r.Context(), owner)
	default:
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "owner or tag is required")
		return
	}
	if err != nil {
		h.fail(w, r, "objects_list_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, ErrRollbackTargetNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "version_not_found", "version not found")
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "not found")
	default:
		h.Log.Error(msg,
			slog.String("request_id", httpx.GetRequestID(r.Context())),
			slog.String("err", err.Error()),
		)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
