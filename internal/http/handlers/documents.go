package handlers

import (
	"net/http"
	"strings"

	"github.com/rfalcao/conceptminer/internal/http/middleware"
	"github.com/rfalcao/conceptminer/internal/service"
)

const maxDocumentBytes = 1 << 20

func (api *API) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)

	var request documentRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	tenantID := strings.TrimSpace(request.TenantID)
	if tenantID == "" || len(tenantID) > 64 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "tenant_id is required and must have at most 64 chars")
		return
	}
	if strings.TrimSpace(request.Text) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, ok := api.idempotency.Get(idempotencyKey); ok {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "idempotency key reused with different payload")
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"request_id": middleware.GetRequestID(r.Context()),
				"job_id":     entry.JobID,
				"status":     "accepted",
				"replayed":   true,
			})
			return
		}
	}

	job, err := api.jobsService.SubmitDocument(r.Context(), service.SubmitInput{
		DocumentID: request.DocumentID,
		TenantID:   tenantID,
		Text:       request.Text,
		Background: request.Background,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to accept document")
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, job.ID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id":  middleware.GetRequestID(r.Context()),
		"job_id":      job.ID,
		"document_id": job.DocumentID,
		"status":      "accepted",
	})
}
