// Package geocode resolves free-text place queries to coordinates via
// Nominatim's search API. Kept deliberately polite: 1 request/second by
// default and an identifying User-Agent, per the service's usage policy.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jfinnert/bite-map/internal/adapters/observability"
	"github.com/jfinnert/bite-map/internal/domain"
)

// ErrNoResult: the query resolved to nothing. Definitive, not retried.
var ErrNoResult = errors.New("geocode: no result")

const DefaultBase = "https://nominatim.openstreetmap.org"

type Client struct {
	base  string
	email string // contact per Nominatim policy; optional
	hc    *http.Client
	rl    *rate.Limiter
}

func New(base, email string, rps int) *Client {
	if base == "" {
		base = DefaultBase
	}
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		base:  base,
		email: email,
		hc:    &http.Client{Timeout: 10 * time.Second},
		rl:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *Client) Geocode(ctx context.Context, query string) (domain.GeoResult, error) {
	if query == "" {
		return domain.GeoResult{}, domain.Invalidf("empty geocode query")
	}
	if err := c.rl.Wait(ctx); err != nil {
		return domain.GeoResult{}, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	q.Set("addressdetails", "0")
	if c.email != "" {
		q.Set("email", c.email)
	}
	u := fmt.Sprintf("%s/search?%s", c.base, q.Encode())

	var rows []struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return domain.GeoResult{}, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "bite-map/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return domain.GeoResult{}, ctx.Err()
			}
			lastErr = err
			if !sleep(ctx, time.Duration(1<<i)*100*time.Millisecond) {
				return domain.GeoResult{}, ctx.Err()
			}
			continue
		}
		observability.ObserveExternal("nominatim", "search", resp.StatusCode, time.Since(start))

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("nominatim status %d", resp.StatusCode)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				if !sleep(ctx, time.Duration(1<<i)*100*time.Millisecond) {
					return domain.GeoResult{}, ctx.Err()
				}
				continue
			}
			return domain.GeoResult{}, lastErr
		}

		err = json.NewDecoder(resp.Body).Decode(&rows)
		resp.Body.Close()
		if err != nil {
			return domain.GeoResult{}, err
		}
		if len(rows) == 0 {
			return domain.GeoResult{}, ErrNoResult
		}
		lat, latErr := strconv.ParseFloat(rows[0].Lat, 64)
		lng, lngErr := strconv.ParseFloat(rows[0].Lon, 64)
		if latErr != nil || lngErr != nil {
			return domain.GeoResult{}, fmt.Errorf("nominatim returned bad coordinates %q,%q", rows[0].Lat, rows[0].Lon)
		}
		name := rows[0].Name
		if name == "" {
			name = query
		}
		return domain.GeoResult{Name: name, Address: rows[0].DisplayName, Lat: lat, Lng: lng}, nil
	}
	return domain.GeoResult{}, lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
