package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zillopoly/zillopoly/internal/custody"
	"github.com/zillopoly/zillopoly/internal/events"
	"github.com/zillopoly/zillopoly/internal/ledger"
	"github.com/zillopoly/zillopoly/internal/listing"
)

const (
	testPlayer  = "0xAAaa00000000000000000000000000000000aaaa"
	testSettler = "0xBBbb00000000000000000000000000000000bbbb"
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

const upstreamFixture = `{
	"results": [
		{
			"zpid": 28026111,
			"streetAddress": "1600 Main St",
			"city": "Houston",
			"state": "TX",
			"price": 450000,
			"imgSrc": "https://photos.example/28026111.jpg",
			"bedrooms": 3,
			"bathrooms": 2,
			"livingArea": 1850,
			"latitude": 29.76,
			"longitude": -95.36
		}
	]
}`

// newTestServer 组装一个全内存的服务端：内存托管 + 假房源上游
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(upstreamFixture))
	}))
	t.Cleanup(upstream.Close)

	bank := custody.NewMemoryBank()
	bank.Mint(testPlayer, tokens(100))
	bank.Mint(custody.PoolAccount, tokens(1000))

	hub := events.NewHub()
	l, err := ledger.New(ledger.Options{
		Custody:  bank,
		Hub:      hub,
		Settlers: []string{testSettler},
	})
	require.NoError(t, err)

	lc := listing.NewClient(listing.Config{BaseURL: upstream.URL, APIKey: "test"})
	t.Cleanup(lc.Close)

	return New(Config{DefaultCity: "houston"}, l, lc, hub, nil), upstream
}

func doJSON(t *testing.T, router http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := doJSON(t, s.Router(), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRandomListingProxiesUpstream(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := doJSON(t, s.Router(), http.MethodGet, "/api/random-listing")

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "houston", body["city"])

	l, ok := body["listing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "28026111", l["zpid"])
	assert.Equal(t, float64(450000), l["price"])

	cd, ok := body["contractData"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "28026111", cd["listingId"])

	// 展示价是扰动后的值：非零且落在 ±15% 区间内
	displayed := uint64(cd["displayedPrice"].(float64))
	assert.NotZero(t, displayed)
	assert.GreaterOrEqual(t, displayed, uint64(float64(450000)*0.84))
	assert.LessOrEqual(t, displayed, uint64(450000*1.16))
}

func TestRandomListingUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	bank := custody.NewMemoryBank()
	l, err := ledger.New(ledger.Options{Custody: bank})
	require.NoError(t, err)

	lc := listing.NewClient(listing.Config{BaseURL: upstream.URL, APIKey: "test"})
	defer lc.Close()

	s := New(Config{}, l, lc, events.NewHub(), nil)
	code, body := doJSON(t, s.Router(), http.MethodGet, "/api/random-listing")

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

func TestGameLookupAndPlayerGames(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	first, last, err := s.ledger.CreateBatch(ctx, testPlayer, 3, tokens(1))
	require.NoError(t, err)
	require.NoError(t, s.ledger.Initialize(testSettler, first, "28026111", 450000))
	require.NoError(t, s.ledger.SubmitGuess(testPlayer, first, true))
	require.NoError(t, s.ledger.Settle(ctx, testSettler, first, 500000))

	code, body := doJSON(t, s.Router(), http.MethodGet, "/api/games/1")
	require.Equal(t, http.StatusOK, code)
	game := body["game"].(map[string]any)
	assert.Equal(t, "settled", game["stage"])
	assert.Equal(t, true, game["won"])

	code, _ = doJSON(t, s.Router(), http.MethodGet, "/api/games/999")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = doJSON(t, s.Router(), http.MethodGet, "/api/games/not-a-number")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	code, body = doJSON(t, s.Router(), http.MethodGet, "/api/players/"+testPlayer+"/games")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(last-first+1), body["total"])
	byStage := body["byStage"].(map[string]any)
	assert.Equal(t, float64(1), byStage["settled"])
	assert.Equal(t, float64(2), byStage["not_started"])
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t)
	_, _, err := s.ledger.CreateBatch(context.Background(), testPlayer, 5, tokens(1))
	require.NoError(t, err)

	code, body := doJSON(t, s.Router(), http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(5), body["totalGames"])
	byStage := body["byStage"].(map[string]any)
	assert.Equal(t, float64(5), byStage["not_started"])
	assert.Equal(t, float64(0), byStage["settled"])
}

func TestRecentEventsWithoutIndex(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := doJSON(t, s.Router(), http.MethodGet, "/api/events")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Empty(t, body["events"])
}
