package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sweeper/internal/billing"
	"sweeper/internal/core"
	"sweeper/internal/types"
)

// TipCollector is the billing surface the tip handler needs.
type TipCollector interface {
	Collect(ctx context.Context, userID string, amountCents int64, source string) (*types.Tip, error)
}

// TipListStore reads an account's tip history.
type TipListStore interface {
	ListTips(ctx context.Context, userID string) ([]*types.Tip, error)
}

// CheckoutRequest is the request body for POST /v1/tips/checkout. Source is
// the tokenized card from Stripe.js; raw card data never reaches this API.
type CheckoutRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"required,min=100"`
	Source      string `json:"source" validate:"required"`
}

// TipHandler collects voluntary tips and serves tip history.
type TipHandler struct {
	tips      TipCollector
	history   TipListStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewTipHandler creates a TipHandler.
func NewTipHandler(tips TipCollector, history TipListStore, v *core.Validator, l *slog.Logger) *TipHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TipHandler{
		tips:      tips,
		history:   history,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the tip routes on the provided router.
func (h *TipHandler) RegisterRoutes(r chi.Router) {
	r.Route("/tips", func(r chi.Router) {
		r.Post("/checkout", h.Checkout)
		r.Get("/", h.List)
	})
}

// Checkout handles POST /v1/tips/checkout. Charges the tokenized source and
// records the tip as unpaid; the charge.succeeded webhook settles it.
func (h *TipHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tip, err := h.tips.Collect(r.Context(), req.UserID, req.AmountCents, req.Source)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: tip})
}

// List handles GET /v1/tips?user_id=.
func (h *TipHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"user_id query parameter is required",
			nil,
		))
		return
	}

	tips, err := h.history.ListTips(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: tips})
}

var _ TipCollector = (*billing.TipService)(nil)
