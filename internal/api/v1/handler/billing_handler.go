package handler

import (
	"net/http"

	"timetrack/internal/api/v1/dto"
	"timetrack/internal/middleware"
	"timetrack/internal/model"
	"timetrack/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type BillingHandler struct {
	billing  service.BillingService
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewBillingHandler(billing service.BillingService, v *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:  billing,
		validate: v,
		logger:   logger.With().Str("handler", "BillingHandler").Logger(),
	}
}

func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/history", h.History)
	r.Post("/billing/invoice-pdf", h.InvoicePDF)
}

// History godoc
// @Summary List the caller's invoices, newest first
// @Tags billing
// @Produce json
// @Success 200 {object} dto.BillingHistoryResponse
// @Router /billing/history [post]
func (h *BillingHandler) History(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.billing.GetBillingHistory(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if invoices == nil {
		invoices = []model.Invoice{}
	}
	writeJSON(w, http.StatusOK, dto.BillingHistoryResponse{Invoices: invoices})
}

// InvoicePDF godoc
// @Summary Get the PDF link of one of the caller's invoices
// @Tags billing
// @Accept json
// @Produce json
// @Param invoice body dto.InvoicePDFRequest true "Invoice"
// @Success 200 {object} dto.InvoicePDFResponse
// @Failure 404 {object} dto.ErrorResponse "unknown invoice"
// @Router /billing/invoice-pdf [post]
func (h *BillingHandler) InvoicePDF(w http.ResponseWriter, r *http.Request) {
	var req dto.InvoicePDFRequest
	if err := decodeBody(r, h.validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	url, err := h.billing.GetInvoicePDF(r.Context(), middleware.UserID(r.Context()), req.InvoiceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.InvoicePDFResponse{PDFURL: url})
}
