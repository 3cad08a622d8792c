package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ymgta/pfrisk/internal/holdings"
	"github.com/ymgta/pfrisk/internal/model"
	"github.com/ymgta/pfrisk/internal/report"
	"github.com/ymgta/pfrisk/internal/service"
)

type fakeService struct {
	gotRows []holdings.Row
	report  model.PortfolioReport
	link    string
	err     error
}

func (f *fakeService) BuildReport(ctx context.Context, rows []holdings.Row) (model.PortfolioReport, error) {
	f.gotRows = rows
	return f.report, f.err
}

func (f *fakeService) ExportReport(ctx context.Context, rows []holdings.Row) (string, error) {
	f.gotRows = rows
	return f.link, f.err
}

const reportBody = `{"holdings":[{"ticker":"AAPL","shares":"100","avgCost":"120","costCurrency":"USD"}]}`

func TestBuildReportEndpoint(t *testing.T) {
	svc := &fakeService{
		report: model.PortfolioReport{
			BaseCurrency: "JPY",
			Totals:       model.PortfolioTotals{MarketValue: decimal.NewFromInt(2_250_000), ValuableLines: 1},
		},
	}
	router := NewRouter(NewController(svc))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/report", strings.NewReader(reportBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	require.Len(t, svc.gotRows, 1)
	assert.Equal(t, "AAPL", svc.gotRows[0].Ticker)
	assert.Equal(t, "USD", svc.gotRows[0].CostCurrency)

	var got model.PortfolioReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "JPY", got.BaseCurrency)
	assert.Equal(t, 1, got.Totals.ValuableLines)
}

func TestBuildReportEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"no holdings", service.ErrNoHoldings, http.StatusBadRequest},
		{"nothing valuable", report.ErrNoValuableHoldings, http.StatusUnprocessableEntity},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(NewController(&fakeService{err: tc.err}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/report", strings.NewReader(reportBody))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestBuildReportEndpointBadBody(t *testing.T) {
	router := NewRouter(NewController(&fakeService{}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/report", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportReportEndpoint(t *testing.T) {
	svc := &fakeService{link: "https://drive.example/file/abc"}
	router := NewRouter(NewController(svc))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/report/export", strings.NewReader(reportBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got exportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "https://drive.example/file/abc", got.Link)
}

func TestExportReportEndpointNotConfigured(t *testing.T) {
	router := NewRouter(NewController(&fakeService{err: service.ErrExportNotConfigured}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/report/export", strings.NewReader(reportBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthz(t *testing.T) {
	router := NewRouter(NewController(&fakeService{}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
