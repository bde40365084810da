package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/service"
)

type fakeTradeService struct {
	buyFill  domain.Fill
	buyErr   error
	quote    service.Quote
	fills    []domain.Fill
	lastOpts domain.ListOpts
}

func (f *fakeTradeService) Buy(ctx context.Context, marketID, user string, side domain.Side, collateralInFP, minSharesOutFP int64) (domain.Fill, error) {
	return f.buyFill, f.buyErr
}

func (f *fakeTradeService) Sell(ctx context.Context, marketID, user string, side domain.Side, sharesInFP, minCollateralOutFP int64) (domain.Fill, error) {
	return f.buyFill, f.buyErr
}

func (f *fakeTradeService) QuoteBuy(ctx context.Context, marketID string, side domain.Side, collateralInFP int64) (service.Quote, error) {
	return f.quote, nil
}

func (f *fakeTradeService) ListFills(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	f.lastOpts = opts
	return f.fills, nil
}

type fakePriceService struct {
	point domain.PricePoint
	err   error
}

func (f *fakePriceService) Current(ctx context.Context, marketID string) (domain.PricePoint, error) {
	return f.point, f.err
}

func newTradeMux(trades TradeService, prices PriceService) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewTradeHandler(trades, prices, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets/{id}/buy", h.Buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", h.Sell)
	mux.HandleFunc("GET /api/markets/{id}/quote", h.QuoteBuy)
	mux.HandleFunc("GET /api/markets/{id}/price", h.GetPrice)
	mux.HandleFunc("GET /api/markets/{id}/fills", h.ListFills)
	return mux
}

func TestBuyReturnsFill(t *testing.T) {
	svc := &fakeTradeService{
		buyFill: domain.Fill{ID: "f1", MarketID: "m1", User: "bob", Kind: domain.FillBuy, SharesFP: 42},
	}
	mux := newTradeMux(svc, &fakePriceService{})

	body := `{"user":"bob","side":"hit","collateral_in_fp":1000000}`
	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/buy", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var fill domain.Fill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fill))
	assert.Equal(t, "f1", fill.ID)
	assert.Equal(t, int64(42), fill.SharesFP)
}

func TestBuyRequiresUser(t *testing.T) {
	mux := newTradeMux(&fakeTradeService{}, &fakePriceService{})

	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/buy",
		strings.NewReader(`{"side":"hit","collateral_in_fp":1}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user is required")
}

func TestBuyRejectsUnknownFields(t *testing.T) {
	mux := newTradeMux(&fakeTradeService{}, &fakePriceService{})

	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/buy",
		strings.NewReader(`{"user":"bob","bogus":true}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuyDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrMarketPaused, http.StatusConflict},
		{domain.ErrPhaseViolation, http.StatusConflict},
		{domain.ErrSlippageExceeded, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrCapExceeded, http.StatusUnprocessableEntity},
		{domain.ErrLockHeld, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		mux := newTradeMux(&fakeTradeService{buyErr: tc.err}, &fakePriceService{})
		req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/buy",
			strings.NewReader(`{"user":"bob","side":"hit","collateral_in_fp":1}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "error %v", tc.err)
	}

	// Internal errors are masked, not echoed.
	mux := newTradeMux(&fakeTradeService{buyErr: errors.New("disk on fire")}, &fakePriceService{})
	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/buy",
		strings.NewReader(`{"user":"bob","side":"hit","collateral_in_fp":1}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestQuoteValidatesQueryParams(t *testing.T) {
	mux := newTradeMux(&fakeTradeService{}, &fakePriceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/markets/m1/quote?side=maybe&collateral_in_fp=10", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/markets/m1/quote?side=hit&collateral_in_fp=-5", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/markets/m1/quote?side=hit&collateral_in_fp=1000000", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListFillsDefaultsAndEmptySlice(t *testing.T) {
	svc := &fakeTradeService{}
	mux := newTradeMux(svc, &fakePriceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/markets/m1/fills", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, svc.lastOpts.Limit)
	assert.Zero(t, svc.lastOpts.Offset)
	// An empty history marshals as [], not null.
	assert.Contains(t, rec.Body.String(), `"fills":[]`)

	// Limits clamp at 500.
	req = httptest.NewRequest(http.MethodGet, "/api/markets/m1/fills?limit=9999&offset=3", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, 500, svc.lastOpts.Limit)
	assert.Equal(t, 3, svc.lastOpts.Offset)
}

func TestGetPrice(t *testing.T) {
	prices := &fakePriceService{point: domain.PricePoint{HitMilli: 640, MissMilli: 360}}
	mux := newTradeMux(&fakeTradeService{}, prices)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/m1/price", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var point domain.PricePoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &point))
	assert.Equal(t, int64(640), point.HitMilli)
	assert.Equal(t, int64(360), point.MissMilli)
}
