package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/finresearch-cli/internal/batch"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type handler struct {
	deps Dependencies
}

// BatchRequest is the body of POST /api/v1/batch.
type BatchRequest struct {
	Items      []model.Period `json:"items" validate:"required,min=1,dive"`
	MaxWorkers int            `json:"max_workers" validate:"gte=0,lte=32"`
}

// BatchAccepted is the response to a started batch.
type BatchAccepted struct {
	JobID string `json:"job_id"`
	Items int    `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) startBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for i := range req.Items {
		q, err := model.ParseQuarter(req.Items[i].Quarter)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Items[i].Quarter = q
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.deps.Batch.Start(r.Context(), req.Items, req.MaxWorkers)
	switch {
	case errors.Is(err, batch.ErrRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, BatchAccepted{JobID: job.ID(), Items: len(req.Items)})
}

func (h *handler) batchStatus(w http.ResponseWriter, _ *http.Request) {
	snap := h.deps.Batch.Poll()
	if snap == nil {
		writeJSON(w, http.StatusOK, model.BatchSnapshot{Message: "no batch has run", Items: []model.ItemResult{}})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) stopBatch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": h.deps.Batch.Stop()})
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if snap := h.deps.Batch.Poll(); snap != nil && snap.ID == id {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	snap, err := h.deps.Records.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get job", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	q, err := model.ParseQuarter(chi.URLParam(r, "quarter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be a number")
		return
	}
	p := model.Period{Company: chi.URLParam(r, "company"), Quarter: q, Year: year}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.deps.Records.GetRecord(r.Context(), p)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get record",
			zap.String("company", p.Company),
			zap.String("quarter", p.Quarter),
			zap.Int("year", p.Year),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RecordFilter{Company: q.Get("company")}
	for key, dst := range map[string]*int{"year": &filter.Year, "limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, key+" must be a non-negative number")
				return
			}
			*dst = n
		}
	}

	recs, err := h.deps.Records.ListRecords(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if recs == nil {
		recs = []model.RecordSummary{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.deps.Companies(r.Context())
	if err != nil {
		zap.L().Error("api: list companies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list companies")
		return
	}
	writeJSON(w, http.StatusOK, companies)
}
