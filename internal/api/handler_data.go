package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"datagate/internal/domain"
)

type bulkRequest struct {
	Records []map[string]interface{} `json:"records"`
}

type bulkResponse struct {
	Created int `json:"created"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var data map[string]interface{}
	if err := h.decodeBody(r, &data); err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.data.Create(r.Context(), chi.URLParam(r, "schema"), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, rec)
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.data.CreateBatch(r.Context(), chi.URLParam(r, "schema"), req.Records)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, bulkResponse{Created: n})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var spec domain.QuerySpec
	if err := h.decodeBody(r, &spec); err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.data.GetAll(r.Context(), chi.URLParam(r, "schema"), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, page)
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	var spec domain.QuerySpec
	if err := h.decodeBody(r, &spec); err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.data.Count(r.Context(), chi.URLParam(r, "schema"), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, countResponse{Count: n})
}

// stream writes matching records as NDJSON, one record per line, flushing
// as it goes. Errors after the first line can only terminate the stream.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	var spec domain.QuerySpec
	if err := h.decodeBody(r, &spec); err != nil {
		h.writeError(w, r, err)
		return
	}

	st, err := h.data.Stream(r.Context(), chi.URLParam(r, "schema"), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer st.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for {
		rec, err := st.Next(r.Context())
		if err != nil {
			h.logger.Error("stream aborted", "path", r.URL.Path, "error", err)
			return
		}
		if rec == nil {
			return
		}
		if err := enc.Encode(rec); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	rec, err := h.data.GetByID(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var data map[string]interface{}
	if err := h.decodeBody(r, &data); err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.data.Update(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "id"), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, rec)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.data.Delete(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
