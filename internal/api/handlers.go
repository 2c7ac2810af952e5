package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/etiennerc-wobz/payement-item-association/internal/ingress"
	"github.com/etiennerc-wobz/payement-item-association/internal/usecase"
)

const maxEventBody = 1 << 20

type Handlers struct {
	ingestEventUC      *usecase.IngestEvent
	getStateUC         *usecase.GetState
	listAssociationsUC *usecase.ListAssociations
	listDeadLettersUC  *usecase.ListDeadLetters
	logger             *slog.Logger
}

func NewHandlers(
	ingestEventUC *usecase.IngestEvent,
	getStateUC *usecase.GetState,
	listAssociationsUC *usecase.ListAssociations,
	listDeadLettersUC *usecase.ListDeadLetters,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		ingestEventUC:      ingestEventUC,
		getStateUC:         getStateUC,
		listAssociationsUC: listAssociationsUC,
		listDeadLettersUC:  listDeadLettersUC,
		logger:             logger,
	}
}

func (h *Handlers) IngestPayment(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, ingress.ChannelPayments)
}

func (h *Handlers) IngestItems(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, ingress.ChannelItems)
}

func (h *Handlers) ingest(w http.ResponseWriter, r *http.Request, channel string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.ingestEventUC.Execute(r.Context(), channel, body); err != nil {
		if errors.Is(err, ingress.ErrMalformedPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to ingest event", "channel", channel, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ACCEPTED", "channel": channel})
}

func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.getStateUC.Execute(r.Context()))
}

func (h *Handlers) ListAssociations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.listAssociationsUC.Execute(r.Context(), limit)
	if err != nil {
		if errors.Is(err, usecase.ErrJournalDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.listDeadLettersUC.Execute(r.Context(), limit)
	if err != nil {
		if errors.Is(err, usecase.ErrDeadLettersDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
