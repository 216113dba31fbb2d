package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener_bot/internal/modules/config"
	"screener_bot/internal/modules/health/service"
	sandbox "screener_bot/internal/modules/sandbox/service"
)

func testMux() *http.ServeMux {
	cfg := &config.Config{}
	cfg.Screener.FilterTimeout = 5 * time.Second
	cfg.Screener.SeriesTimeout = 5 * time.Second
	return NewMux(service.NewState(), sandbox.NewExecutor(cfg))
}

func TestLivez(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzNotReady(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyzReady(t *testing.T) {
	state := service.NewState()
	state.SetReady(true)
	cfg := &config.Config{}
	cfg.Screener.FilterTimeout = 5 * time.Second
	mux := NewMux(state, sandbox.NewExecutor(cfg))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvaluateValidCode(t *testing.T) {
	body := `{"filterCode": "return len(data.Candles[\"5m\"]) > 0"}`
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])
}

func TestEvaluateInvalidCode(t *testing.T) {
	body := `{"filterCode": "this is not go"}`
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["valid"])
	assert.NotEmpty(t, resp["filterError"])
}

const sampleMarketData = `{
	"symbol": "BTCUSDT",
	"ticker": {"symbol": "BTCUSDT", "lastPrice": 100},
	"candles": {"5m": [
		{"open": 99, "high": 101, "low": 98, "close": 100, "volume": 10, "closed": true}
	]}
}`

func TestEvaluateExecutesAgainstMarketData(t *testing.T) {
	body := `{
		"filterCode": "return data.Ticker.LastPrice > 50",
		"marketData": ` + sampleMarketData + `
	}`
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, true, resp["matched"])
	assert.Equal(t, "ok", resp["filterOutcome"])
}

func TestEvaluateSurfacesRuntimeError(t *testing.T) {
	// выход за границы — поймать его можно только выполнением над сэмплом
	body := `{
		"filterCode": "return data.Candles[\"5m\"][10].Close > 0",
		"marketData": ` + sampleMarketData + `
	}`
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["valid"])
	assert.Equal(t, "runtime_error", resp["filterOutcome"])
	assert.NotEmpty(t, resp["filterError"])
}

func TestEvaluateRunsSeriesOverMarketData(t *testing.T) {
	body := `{
		"filterCode": "return true",
		"seriesCode": "return &models.IndicatorSnapshot{Series: map[string][]models.Point{}, Latest: map[string]float64{\"last\": data.Ticker.LastPrice}}",
		"marketData": ` + sampleMarketData + `
	}`
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, "ok", resp["seriesOutcome"])
	require.NotNil(t, resp["series"])
}

func TestEvaluateRequiresPost(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/evaluate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEvaluateRequiresFilterCode(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
