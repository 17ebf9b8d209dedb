package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/syport/internal/blob/s3"
	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/portfolio"
	"github.com/alanyoungcy/syport/internal/registry"
	"github.com/alanyoungcy/syport/internal/server/handler"
)

const (
	account  = "0x1234567890123456789012345678901234567890"
	syUSDC   = "0x4B8d90D68F26DEF303Dcb6CFc9b63A1aAEC15840"
	exportID = "3f0c6a4e-8d1b-4c7e-9a57-2b1f0e6d91e1"
)

var testLogger = slog.New(slog.DiscardHandler)

type fakeSource struct {
	last domain.RedeemQuery
	err  error
}

func (s *fakeSource) FetchSeniorRedeems(_ context.Context, q domain.RedeemQuery) (domain.RedeemPage, error) {
	s.last = q
	if s.err != nil {
		return domain.RedeemPage{}, s.err
	}
	return domain.RedeemPage{
		Data: []domain.SeniorRedeem{{
			SmartYieldAddress: strings.ToLower(syUSDC),
			SeniorBondID:      "7",
			UnderlyingIn:      decimal.NewFromInt(1000),
			Gain:              decimal.NewFromInt(50),
			Fee:               decimal.NewFromInt(5),
			ForDays:           365,
			TransactionHash:   "0x" + strings.Repeat("cd", 32),
			BlockTimestamp:    1_615_000_000,
		}},
		Count: 23,
	}, nil
}

type fakeExporter struct{ q domain.RedeemQuery }

func (e *fakeExporter) Export(_ context.Context, q domain.RedeemQuery) (s3blob.Export, error) {
	e.q = q
	return s3blob.Export{ID: exportID, Path: s3blob.ExportPath(q.Account, exportID), Account: q.Account, Records: 23}, nil
}

type memReader map[string]string

func (m memReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m memReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v)), LastModified: time.Unix(1_700_000_000, 0).UTC()})
		}
	}
	return out, nil
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	handler  http.Handler
	source   *fakeSource
	exporter *fakeExporter
	reg      *registry.Registry
	trigger  chan struct{}
}

func newFixture(t *testing.T, cfg Config, pingers map[string]handler.Pinger) *fixture {
	t.Helper()
	f := &fixture{
		source:   &fakeSource{},
		exporter: &fakeExporter{},
		reg:      registry.New(),
		trigger:  make(chan struct{}, 1),
	}
	f.reg.Replace([]domain.Pool{
		{ProtocolID: "compound/v2", SmartYieldAddress: syUSDC, UnderlyingSymbol: "USDC", UnderlyingDecimals: 6},
		{ProtocolID: "aave/v2", SmartYieldAddress: "0x673f9488619821aa4f7f7ba4b3e7a3b4e4c0e3a7", UnderlyingSymbol: "DAI", UnderlyingDecimals: 18},
	})

	reader := memReader{s3blob.ExportPath(account, exportID): "{\"seniorBondId\":\"7\"}\n"}
	asm := portfolio.NewAssembler(f.source, testLogger)
	f.handler = NewHandler(cfg, Handlers{
		Health:  handler.NewHealthHandler(f.reg, pingers, testLogger),
		Pools:   handler.NewPoolHandler(f.reg, testLogger),
		Redeems: handler.NewRedeemHandler(asm, f.reg, "https://etherscan.io", testLogger),
		Exports: handler.NewExportHandler(f.exporter, reader, testLogger),
		Indexer: handler.NewIndexerHandler(testLogger).WithTriggerChannel(f.trigger),
	}, nil, testLogger)
	return f
}

func (f *fixture) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v))
}

func TestListSeniorRedeems(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(http.MethodGet, "/api/portfolio/"+account+"/senior/redeems?page=3&limit=5&originator=compound/v2&token=USDC", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, domain.RedeemQuery{Account: account, Page: 3, PageSize: 5, Originator: "compound/v2", Token: "USDC"}, f.source.last)

	var body struct {
		Data []struct {
			SeniorBondID string              `json:"seniorBondId"`
			Deposited    decimal.Decimal     `json:"deposited"`
			Redeemed     decimal.Decimal     `json:"redeemed"`
			APY          decimal.NullDecimal `json:"apy"`
			Pool         *domain.Pool        `json:"pool"`
		} `json:"data"`
		Cards []struct {
			MarketName string `json:"marketName"`
			APY        string `json:"apy"`
			TxURL      string `json:"txUrl"`
			RedeemedAt string `json:"redeemedAt"`
		} `json:"cards"`
		Total    int `json:"total"`
		Page     int `json:"page"`
		PageSize int `json:"pageSize"`
	}
	decode(t, rec, &body)

	assert.Equal(t, 23, body.Total)
	assert.Equal(t, 3, body.Page)
	assert.Equal(t, 5, body.PageSize)
	require.Len(t, body.Data, 1)
	assert.True(t, body.Data[0].Redeemed.Equal(decimal.NewFromInt(1045)))
	assert.True(t, body.Data[0].APY.Decimal.Equal(decimal.NewFromInt(5)))
	require.NotNil(t, body.Data[0].Pool)
	assert.Equal(t, "USDC", body.Data[0].Pool.UnderlyingSymbol)

	require.Len(t, body.Cards, 1)
	assert.Equal(t, "Compound", body.Cards[0].MarketName)
	assert.Equal(t, "5 %", body.Cards[0].APY)
	assert.Equal(t, "https://etherscan.io/tx/0x"+strings.Repeat("cd", 32), body.Cards[0].TxURL)
	assert.Equal(t, "03.06.2021 03:06", body.Cards[0].RedeemedAt)
}

func TestListSeniorRedeems_UpstreamFailureIsEmpty(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.source.err = domain.ErrUpstream

	rec := f.do(http.MethodGet, "/api/portfolio/"+account+"/senior/redeems", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[],"cards":[],"total":0,"page":1,"pageSize":10}`, rec.Body.String())
}

func TestListSeniorRedeems_ConfiguredPageSize(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	asm := portfolio.NewAssembler(f.source, testLogger)
	h := NewHandler(Config{}, Handlers{
		Health:  handler.NewHealthHandler(f.reg, nil, testLogger),
		Pools:   handler.NewPoolHandler(f.reg, testLogger),
		Redeems: handler.NewRedeemHandler(asm, f.reg, "https://etherscan.io", testLogger).WithPageSize(25),
	}, nil, testLogger)

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get("/api/portfolio/" + account + "/senior/redeems")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, f.source.last.PageSize)
	assert.Contains(t, rec.Body.String(), `"pageSize":25`)

	rec = get("/api/portfolio/" + account + "/senior/redeems?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.source.last.PageSize, "explicit limit wins over the configured size")
}

func TestListSeniorRedeems_BadInput(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	for _, target := range []string{
		"/api/portfolio/0xnope/senior/redeems",
		"/api/portfolio/" + account + "/senior/redeems?page=0",
		"/api/portfolio/" + account + "/senior/redeems?limit=abc",
	} {
		rec := f.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListSeniorRedeems_RegistryNotReady(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.reg.Replace(nil)

	rec := f.do(http.MethodGet, "/api/portfolio/"+account+"/senior/redeems", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestPools(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(http.MethodGet, "/api/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pools struct {
		Data  []domain.Pool `json:"data"`
		Count int           `json:"count"`
	}
	decode(t, rec, &pools)
	assert.Equal(t, 2, pools.Count)
	assert.Equal(t, "aave/v2", pools.Data[0].ProtocolID)

	rec = f.do(http.MethodGet, "/api/pools/filters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var filters registry.Filters
	decode(t, rec, &filters)
	assert.Equal(t, []string{"DAI", "USDC"}, filters.Tokens)
	require.Len(t, filters.Originators, 2)
}

func TestExports(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(http.MethodPost, "/api/portfolio/"+account+"/senior/redeems/export?token=USDC", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "USDC", f.exporter.q.Token)

	rec = f.do(http.MethodGet, "/api/portfolio/"+account+"/senior/redeems/exports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), exportID)

	rec = f.do(http.MethodGet, "/api/portfolio/"+account+"/senior/redeems/exports/"+exportID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s3blob.ContentTypeJSONL, rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"seniorBondId\":\"7\"}\n", rec.Body.String())

	rec = f.do(http.MethodGet, "/api/portfolio/"+account+"/senior/redeems/exports/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, id := range []string{
		"not-an-export-id",
		strings.Repeat("-", 36),
		strings.ToUpper(exportID),
		"urn:uuid:" + exportID,
		strings.ReplaceAll(exportID, "-", ""),
	} {
		rec = f.do(http.MethodGet, "/api/portfolio/"+account+"/senior/redeems/exports/"+id, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, id)
	}
}

func TestIndexerTrigger(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(http.MethodPost, "/api/indexer/trigger", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, f.trigger, 1)

	// A pending trigger is not duplicated.
	rec = f.do(http.MethodPost, "/api/indexer/trigger", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, f.trigger, 1)
}

func TestHealthAndAuth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "k"}, map[string]handler.Pinger{"redis": downPinger{}})

	rec := f.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
	assert.Contains(t, rec.Body.String(), `"pools":2`)

	rec = f.do(http.MethodGet, "/api/pools", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/pools", map[string]string{"X-API-Key": "k"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// bucketLimiter allows limit requests per key.
type bucketLimiter struct {
	limit int
	seen  map[string]int
}

func (l *bucketLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.seen[key]++
	return l.seen[key] <= l.limit, nil
}

func TestRateLimit_ProxyHeaders(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	lim := &bucketLimiter{limit: 1, seen: map[string]int{}}
	h := NewHandler(Config{RateLimit: 1, TrustedProxies: trusted}, Handlers{
		Health:  handler.NewHealthHandler(f.reg, nil, testLogger),
		Pools:   handler.NewPoolHandler(f.reg, testLogger),
		Redeems: handler.NewRedeemHandler(portfolio.NewAssembler(f.source, testLogger), f.reg, "", testLogger),
	}, lim, testLogger)

	get := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Direct clients cannot escape their bucket by forging the header.
	assert.Equal(t, http.StatusOK, get("203.0.113.9:4000", "1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("203.0.113.9:4000", "2.2.2.2"))

	// Behind the load balancer each forwarded client has its own bucket.
	assert.Equal(t, http.StatusOK, get("10.0.0.2:4000", "198.51.100.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.2:4000", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.3:4000", "6.6.6.6, 198.51.100.1"))
}
