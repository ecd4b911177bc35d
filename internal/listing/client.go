package listing

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/zillopoly/zillopoly/internal/domain"
	"github.com/zillopoly/zillopoly/internal/metrics"
	"github.com/zillopoly/zillopoly/pkg/cache"
	"github.com/zillopoly/zillopoly/pkg/logger"
	"github.com/zillopoly/zillopoly/pkg/ratelimit"
)

// ErrNoListings is returned when the upstream answers successfully but the
// result set is empty. Callers must not fabricate listing data in that case.
var ErrNoListings = errors.New("listing: no listings for city")

// HomeType filters for the search endpoint.
const (
	HomeTypeHouse     = "Houses"
	HomeTypeCondo     = "Condos"
	HomeTypeTownhouse = "Townhomes"
)

// SearchOptions narrows a city search.
type SearchOptions struct {
	ForSaleOnly bool
	HomeType    string // one of the HomeType constants, empty = any
}

// Client fetches real-estate listings from the upstream search API.
// City result sets are cached and upstream calls are rate limited; the
// cache TTL is deliberately generous since listings move slowly.
type Client struct {
	http    *resty.Client
	apiKey  string
	host    string
	cities  *cache.TTLCache[string, []domain.Listing]
	limiter ratelimit.Limiter
}

type Config struct {
	BaseURL   string
	APIKey    string
	CacheTTL  time.Duration // 0 = 5 minutes
	MaxPerSec int           // 0 = 2 req/s
}

func NewClient(cfg Config) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	maxPerSec := cfg.MaxPerSec
	if maxPerSec <= 0 {
		maxPerSec = 2
	}

	// resty picks up HTTP(S)_PROXY from the environment on its own
	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{
		http:    httpClient,
		apiKey:  cfg.APIKey,
		host:    hostOf(base),
		cities:  cache.New[string, []domain.Listing](ttl, time.Minute),
		limiter: ratelimit.NewTokenBucket(maxPerSec, maxPerSec),
	}
}

func hostOf(base string) string {
	h := strings.TrimPrefix(strings.TrimPrefix(base, "https://"), "http://")
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	return h
}

// SearchByCity returns the listings currently for sale in the city.
// Results come from the cache when fresh; a cache miss goes upstream.
func (c *Client) SearchByCity(ctx context.Context, city string, opts SearchOptions) ([]domain.Listing, error) {
	city = strings.ToLower(strings.TrimSpace(city))
	if city == "" {
		return nil, errors.New("listing: city is required")
	}

	cacheKey := city + "|" + opts.HomeType
	if cached, ok := c.cities.Get(cacheKey); ok {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "listing: rate limit wait")
	}

	params := map[string]string{
		"location": city,
		"output":   "json",
	}
	if opts.ForSaleOnly {
		params["status"] = "forSale"
	}
	if opts.HomeType != "" {
		params["home_type"] = opts.HomeType
	}

	var out searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-RapidAPI-Key", c.apiKey).
		SetHeader("X-RapidAPI-Host", c.host).
		SetQueryParams(params).
		SetResult(&out).
		Get("/search")
	if err != nil {
		return nil, errors.Wrapf(err, "listing: search %s", city)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	listings := make([]domain.Listing, 0, len(out.Results))
	for _, r := range out.Results {
		l := r.toDomain()
		if l.Valid() {
			listings = append(listings, l)
		}
	}
	if len(listings) == 0 {
		return nil, errors.Wrapf(ErrNoListings, "city=%s", city)
	}

	metrics.ListingFetches.Add(1)
	logger.Debugf("[listing] %s: %d usable listings", city, len(listings))
	c.cities.Set(cacheKey, listings, 0)
	return listings, nil
}

// RandomListing picks one random usable listing from the city.
func (c *Client) RandomListing(ctx context.Context, city string, opts SearchOptions) (domain.Listing, error) {
	listings, err := c.SearchByCity(ctx, city, opts)
	if err != nil {
		return domain.Listing{}, err
	}
	return listings[rand.Intn(len(listings))], nil
}

// Close releases the cache janitor.
func (c *Client) Close() {
	c.cities.Stop()
}
