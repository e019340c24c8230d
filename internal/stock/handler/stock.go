// Package handler exposes the stock ledger over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/schoolclinic/clinic-backend/internal/stock/service"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
	"github.com/schoolclinic/clinic-backend/pkg/httputil"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
)

// StockHandler handles stock ledger endpoints
type StockHandler struct {
	service *service.LedgerService
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.LedgerService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  log,
	}
}

// RegisterRoutes mounts the ledger endpoints on r
func (h *StockHandler) RegisterRoutes(r chi.Router) {
	r.Route("/items/{id}", func(r chi.Router) {
		r.Post("/receipts", h.RecordReceipt)
		r.Get("/summary", h.GetItemSummary)
		r.Post("/recompute", h.RecomputeItem)
	})

	r.Route("/batches/{batchId}", func(r chi.Router) {
		r.Get("/balance", h.GetBalance)
		r.Get("/ledger", h.GetBatchLedger)
		r.Post("/disposals", h.RecordDisposal)
		r.Post("/adjustments", h.RecordAdjustment)
		r.Post("/issuances", h.IssueMedicine)
	})

	r.Get("/available", h.ListAvailable)
	r.Post("/integrity/check", h.CheckIntegrity)
}

// RecordReceipt records a delivered batch of an item
func (h *StockHandler) RecordReceipt(w http.ResponseWriter, r *http.Request) {
	var cmd service.ReceiptCommand
	if err := httputil.DecodeJSON(r, &cmd); err != nil {
		httputil.Error(w, err)
		return
	}
	cmd.ItemID = chi.URLParam(r, "id")

	batch, err := h.service.RecordReceipt(r.Context(), cmd)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// GetItemSummary returns the cached aggregate of an item
func (h *StockHandler) GetItemSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetItemSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// RecomputeItem re-sums an item's aggregate from the ledger
func (h *StockHandler) RecomputeItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.RecomputeItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// GetBalance returns the derived balance of a batch
func (h *StockHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")

	balance, err := h.service.GetBalance(r.Context(), batchID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": batchID,
		"balance":  balance,
	})
}

// GetBatchLedger returns the movement history of a batch
func (h *StockHandler) GetBatchLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.service.GetBatchLedger(r.Context(), chi.URLParam(r, "batchId"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ledger)
}

// RecordDisposal removes quantity from a batch
func (h *StockHandler) RecordDisposal(w http.ResponseWriter, r *http.Request) {
	var cmd service.DisposalCommand
	if err := httputil.DecodeJSON(r, &cmd); err != nil {
		httputil.Error(w, err)
		return
	}
	cmd.BatchID = chi.URLParam(r, "batchId")

	entry, err := h.service.RecordDisposal(r.Context(), cmd)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, entry)
}

// RecordAdjustment records a correction against a batch
func (h *StockHandler) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	var cmd service.AdjustmentCommand
	if err := httputil.DecodeJSON(r, &cmd); err != nil {
		httputil.Error(w, err)
		return
	}
	cmd.BatchID = chi.URLParam(r, "batchId")

	entry, err := h.service.RecordAdjustment(r.Context(), cmd)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, entry)
}

// IssueMedicine issues medicine from a batch
func (h *StockHandler) IssueMedicine(w http.ResponseWriter, r *http.Request) {
	var cmd service.IssuanceCommand
	if err := httputil.DecodeJSON(r, &cmd); err != nil {
		httputil.Error(w, err)
		return
	}
	cmd.BatchID = chi.URLParam(r, "batchId")

	entry, err := h.service.IssueMedicine(r.Context(), cmd)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, entry)
}

// ListAvailable lists issuable batches, optionally as of ?as_of=RFC3339
func (h *StockHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.Error(w, errors.Validation(map[string]string{"as_of": "must be an RFC3339 timestamp"}))
			return
		}
		asOf = parsed
	}

	batches, err := h.service.ListAvailable(r.Context(), asOf)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, batches, &httputil.Meta{Total: int64(len(batches))})
}

// CheckIntegrity runs the ledger integrity check on demand
func (h *StockHandler) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.CheckIntegrity(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}
