package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nbassil/dialdispatch/internal/domain"
	"github.com/nbassil/dialdispatch/internal/kafka"
	"github.com/nbassil/dialdispatch/internal/policy"
	"github.com/nbassil/dialdispatch/internal/redial"
)

// listQueue handles GET /api/v1/queue?status=&limit=.
func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	status := domain.RedialStatus(r.URL.Query().Get("status"))
	records := h.queue.List(status, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// queueStats handles GET /api/v1/queue/stats.
func (h *Handler) queueStats(w http.ResponseWriter, _ *http.Request) {
	pending, resolved := h.calls.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":      h.queue.QueueStats(),
		"identities": h.identities.Stats(),
		"admission": map[string]any{
			"tracked_numbers": h.limiter.TrackedNumbers(),
		},
		"calls": map[string]int{
			"pending":  pending,
			"resolved": resolved,
		},
	})
}

// phoneParam normalizes the {phone} path segment.
func phoneParam(r *http.Request) (string, bool) {
	normalized := domain.NormalizePhone(chi.URLParam(r, "phone"))
	return normalized, domain.ValidPhone(normalized)
}

// getRecord handles GET /api/v1/queue/{phone}.
func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	rec, err := h.queue.Get(phone)
	if err != nil {
		writeError(w, http.StatusNotFound, "no redial record for "+phone)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// pauseRecord handles POST /api/v1/queue/{phone}/pause.
func (h *Handler) pauseRecord(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	var req pauseRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // reason is optional
	}
	if err := h.queue.Pause(phone, req.Reason); err != nil {
		writeError(w, http.StatusNotFound, "no redial record for "+phone)
		return
	}
	h.logger.Info("record paused", slog.String("phone", phone), slog.String("reason", req.Reason))
	w.WriteHeader(http.StatusNoContent)
}

// resumeRecord handles POST /api/v1/queue/{phone}/resume.
func (h *Handler) resumeRecord(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	if err := h.queue.Resume(phone); err != nil {
		writeError(w, http.StatusNotFound, "no redial record for "+phone)
		return
	}
	h.logger.Info("record resumed", slog.String("phone", phone))
	w.WriteHeader(http.StatusNoContent)
}

// deleteRecord handles DELETE /api/v1/queue/{phone}. With ?blocklist=1 the
// number is also permanently refused.
func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	if r.URL.Query().Get("blocklist") == "1" {
		h.queue.Blocklist(phone)
		h.logger.Info("number blocklisted", slog.String("phone", phone))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.queue.Remove(phone); err != nil {
		writeError(w, http.StatusNotFound, "no redial record for "+phone)
		return
	}
	h.logger.Info("record removed", slog.String("phone", phone))
	w.WriteHeader(http.StatusNoContent)
}

// triggerDispatch handles POST /api/v1/dispatch/trigger.
func (h *Handler) triggerDispatch(w http.ResponseWriter, _ *http.Request) {
	h.dispatcher.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// startDispatch handles POST /api/v1/dispatch/start.
func (h *Handler) startDispatch(w http.ResponseWriter, _ *http.Request) {
	h.dispatcher.SetEnabled(true)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

// stopDispatch handles POST /api/v1/dispatch/stop.
func (h *Handler) stopDispatch(w http.ResponseWriter, _ *http.Request) {
	h.dispatcher.SetEnabled(false)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

// getConfig handles GET /api/v1/config.
func (h *Handler) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewFromPolicy(h.pol.Snapshot()))
}

// putConfig handles PUT /api/v1/config. The body is the full document from
// GET with any knobs edited; the mutation is rejected atomically if the
// resulting policy fails validation.
func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	var view ConfigView
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	next := h.pol.Snapshot()
	if err := applyView(view, &next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.pol.Update(func(p *policy.Policy) { *p = next }); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.logger.Info("policy updated")
	writeJSON(w, http.StatusOK, viewFromPolicy(h.pol.Snapshot()))
}

// CreateCallRequest is the body for POST /api/v1/calls.
type CreateCallRequest struct {
	Phone     string `json:"phone"`
	LeadID    string `json:"lead_id,omitempty"`
	ListID    string `json:"list_id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// createCall handles POST /api/v1/calls: immediate dispatch outside the tick
// loop. Admission limits still apply.
func (h *Handler) createCall(w http.ResponseWriter, r *http.Request) {
	var req CreateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "field 'phone' is required")
		return
	}

	callID, err := h.dispatcher.DispatchImmediate(r.Context(), req.Phone, redial.Context{
		LeadID:    req.LeadID,
		ListID:    req.ListID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		var invalid *domain.InvalidPhoneError
		var blocked *domain.BlocklistedNumberError
		var dup *domain.DuplicateCallError
		switch {
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &blocked):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.As(err, &dup):
			writeError(w, http.StatusConflict, "a call to this number is already in flight")
		default:
			h.logger.Error("immediate dispatch failed",
				slog.String("phone", req.Phone),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"call_id": callID})
}

// completionWebhook handles POST /webhooks/completion, the HTTP twin of the
// Kafka completions topic. Duplicate and unknown call IDs return 200 so the
// provider stops retrying.
func (h *Handler) completionWebhook(w http.ResponseWriter, r *http.Request) {
	body := json.NewDecoder(r.Body)
	var raw json.RawMessage
	if err := body.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ev, err := kafka.DecodeCompletionEvent(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.dispatcher.OnCompletion(r.Context(), ev); err != nil {
		h.logger.Error("completion webhook failed",
			slog.String("call_id", ev.CallID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to process completion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
