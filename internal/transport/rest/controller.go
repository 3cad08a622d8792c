package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ymgta/pfrisk/internal/holdings"
	"github.com/ymgta/pfrisk/internal/model"
	"github.com/ymgta/pfrisk/internal/report"
	"github.com/ymgta/pfrisk/internal/service"
	"github.com/ymgta/pfrisk/internal/transport/rest/middleware"
	"github.com/ymgta/pfrisk/utils"
)

type PortfolioService interface {
	BuildReport(ctx context.Context, rows []holdings.Row) (model.PortfolioReport, error)
	ExportReport(ctx context.Context, rows []holdings.Row) (link string, err error)
}

type Controller struct {
	portfolioService PortfolioService
}

func NewController(portfolioService PortfolioService) *Controller {
	return &Controller{portfolioService: portfolioService}
}

func NewRouter(ctrl *Controller) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)

	router.Get("/healthz", ctrl.Healthz)
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/report", ctrl.BuildReport)
		r.Post("/report/export", ctrl.ExportReport)
	})

	return router
}

type holdingRow struct {
	Ticker       string `json:"ticker"`
	Shares       string `json:"shares"`
	AvgCost      string `json:"avgCost"`
	CostCurrency string `json:"costCurrency"`
}

type reportRequest struct {
	Holdings []holdingRow `json:"holdings"`
}

type exportResponse struct {
	Link string `json:"link"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (ctrl *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (ctrl *Controller) BuildReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rqID := utils.GetRequestIDFromCtx(ctx)

	rows, ok := ctrl.decodeRows(w, r)
	if !ok {
		return
	}

	portfolioReport, err := ctrl.portfolioService.BuildReport(ctx, rows)
	if err != nil {
		slog.Error("got error from portfolioService.BuildReport", slog.String("rqID", rqID), slog.String("err", err.Error()))
		ctrl.writeError(w, err)
		return
	}

	ctrl.writeJSON(w, http.StatusOK, portfolioReport)
}

func (ctrl *Controller) ExportReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rqID := utils.GetRequestIDFromCtx(ctx)

	rows, ok := ctrl.decodeRows(w, r)
	if !ok {
		return
	}

	link, err := ctrl.portfolioService.ExportReport(ctx, rows)
	if err != nil {
		slog.Error("got error from portfolioService.ExportReport", slog.String("rqID", rqID), slog.String("err", err.Error()))
		ctrl.writeError(w, err)
		return
	}

	ctrl.writeJSON(w, http.StatusOK, exportResponse{Link: link})
}

func (ctrl *Controller) decodeRows(w http.ResponseWriter, r *http.Request) ([]holdings.Row, bool) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return nil, false
	}

	rows := make([]holdings.Row, 0, len(req.Holdings))
	for _, h := range req.Holdings {
		rows = append(rows, holdings.Row{
			Ticker:       h.Ticker,
			Shares:       h.Shares,
			AvgCost:      h.AvgCost,
			CostCurrency: h.CostCurrency,
		})
	}

	return rows, true
}

func (ctrl *Controller) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNoHoldings):
		ctrl.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, report.ErrNoValuableHoldings):
		ctrl.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrExportNotConfigured):
		ctrl.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: err.Error()})
	default:
		ctrl.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (ctrl *Controller) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
