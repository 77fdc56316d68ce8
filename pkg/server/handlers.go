package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/store"
	"github.com/marmos91/objectloader/pkg/transport"
)

// ContentTypeNDJSON is the Content-Type of object line streams.
const ContentTypeNDJSON = "application/x-ndjson"

// uploadChunk is how many uploaded items are written per PutMany.
const uploadChunk = 500

// BatchRequest is the body of POST /objects/batch.
type BatchRequest struct {
	IDs []string `json:"ids"`
}

// UploadResult is the body returned by POST /objects.
type UploadResult struct {
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}

type objectHandler struct {
	store       store.Store
	maxBatchIDs int
	maxBody     int64
}

// Get serves one object as its raw JSON.
func (h *objectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeProblem(w, http.StatusBadRequest, "object id is required")
		return
	}

	found, _, err := h.store.GetMany(r.Context(), []string{id})
	if err != nil {
		logger.ErrorCtx(r.Context(), "Object lookup failed", logger.KeyBaseID, id, logger.KeyError, err)
		writeProblem(w, http.StatusInternalServerError, "object lookup failed")
		return
	}
	if len(found) == 0 {
		writeProblem(w, http.StatusNotFound, fmt.Sprintf("object %s not found", id))
		return
	}

	raw, err := base.Encode(found[0].Base)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

// Batch streams the requested objects as lines. Unknown ids are left out.
func (h *objectHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid batch request: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeProblem(w, http.StatusBadRequest, "ids must not be empty")
		return
	}
	if len(req.IDs) > h.maxBatchIDs {
		writeProblem(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("%d ids exceed the limit of %d", len(req.IDs), h.maxBatchIDs))
		return
	}

	found, missing, err := h.store.GetMany(r.Context(), req.IDs)
	if err != nil {
		logger.ErrorCtx(r.Context(), "Batch lookup failed", logger.KeyCount, len(req.IDs), logger.KeyError, err)
		writeProblem(w, http.StatusInternalServerError, "batch lookup failed")
		return
	}

	w.Header().Set("Content-Type", ContentTypeNDJSON)
	for _, it := range found {
		if err := transport.WriteItem(w, it); err != nil {
			logger.WarnCtx(r.Context(), "Batch response aborted", logger.KeyBaseID, it.BaseID, logger.KeyError, err)
			return
		}
	}
	logger.DebugCtx(r.Context(), "Batch served",
		logger.KeyCount, len(found),
		logger.KeyMissing, len(missing))
}

// Upload stores every object line in the body. Malformed lines are skipped
// and counted.
func (h *objectHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		res     UploadResult
		pending = make([]base.Item, 0, uploadChunk)
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := h.store.PutMany(ctx, pending); err != nil {
			return err
		}
		res.Stored += len(pending)
		pending = pending[:0]
		return nil
	}

	err := transport.ReadLines(http.MaxBytesReader(w, r.Body, h.maxBody), func(it base.Item) error {
		pending = append(pending, it)
		if len(pending) == uploadChunk {
			return flush()
		}
		return nil
	}, func(line []byte, err error) {
		res.Skipped++
		logger.DebugCtx(ctx, "Skipping malformed upload line", logger.KeyBytes, len(line), logger.KeyError, err)
	})
	if err == nil {
		err = flush()
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeProblem(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		logger.ErrorCtx(ctx, "Upload failed", logger.KeyCount, res.Stored, logger.KeyError, err)
		writeProblem(w, http.StatusInternalServerError, "upload failed")
		return
	}

	logger.InfoCtx(ctx, "Objects uploaded", logger.KeyCount, res.Stored, logger.KeyDropped, res.Skipped)
	writeJSON(w, http.StatusOK, res)
}

type healthHandler struct {
	store store.Store
}

// Health reports the store type and object count.
func (h *healthHandler) Health(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"store":   h.store.Type(),
			"objects": n,
		},
	})
}
