// Package extract fetches video metadata from the platforms' public oEmbed
// endpoints. It owns platform detection for ingested links and maps
// definitive platform answers (gone, unembeddable) onto typed errors so
// ingestion can drive the source status lifecycle.
package extract

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jfinnert/bite-map/internal/adapters/observability"
	"github.com/jfinnert/bite-map/internal/domain"
)

var (
	// ErrNotFound: the platform says the video is gone. Definitive.
	ErrNotFound = errors.New("extract: video not found")
	// ErrForbidden: the video exists but cannot be embedded or read.
	ErrForbidden = errors.New("extract: video not accessible")
)

func DefaultEndpoints() map[domain.Platform]string {
	return map[domain.Platform]string{
		domain.PlatformYouTube: "https://www.youtube.com/oembed",
		domain.PlatformTikTok:  "https://www.tiktok.com/oembed",
	}
}

type Client struct {
	hc        *http.Client
	rl        *rate.Limiter
	endpoints map[domain.Platform]string
}

func New(rps int) *Client { return NewWithEndpoints(rps, DefaultEndpoints()) }

func NewWithEndpoints(rps int, endpoints map[domain.Platform]string) *Client {
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		hc:        &http.Client{Timeout: 20 * time.Second},
		rl:        rate.NewLimiter(rate.Limit(rps), rps),
		endpoints: endpoints,
	}
}

// DetectPlatform classifies a raw link by host. Unknown hosts return false;
// they are rejected upstream rather than stored.
func DetectPlatform(rawURL string) (domain.Platform, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtube.com" || host == "m.youtube.com" || host == "youtu.be":
		return domain.PlatformYouTube, true
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return domain.PlatformTikTok, true
	}
	return "", false
}

// VideoID pulls the platform video id out of the link's supported URL
// shapes (watch?v=, youtu.be/, /shorts/, tiktok /video/).
func VideoID(p domain.Platform, rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	switch p {
	case domain.PlatformYouTube:
		if strings.EqualFold(strings.TrimPrefix(u.Hostname(), "www."), "youtu.be") {
			id := strings.Trim(u.Path, "/")
			return id, id != ""
		}
		if u.Path == "/watch" {
			id := u.Query().Get("v")
			return id, id != ""
		}
		if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
			id := strings.SplitN(rest, "/", 2)[0]
			return id, id != ""
		}
	case domain.PlatformTikTok:
		if i := strings.Index(u.Path, "/video/"); i >= 0 {
			id := strings.SplitN(u.Path[i+len("/video/"):], "/", 2)[0]
			return id, id != ""
		}
	}
	return "", false
}

// Fetch resolves title/thumbnail for a video link via oEmbed.
func (c *Client) Fetch(ctx context.Context, p domain.Platform, videoURL string) (domain.VideoMeta, error) {
	base, ok := c.endpoints[p]
	if !ok {
		return domain.VideoMeta{}, domain.Invalidf("no extractor endpoint for platform %q", p)
	}
	u := fmt.Sprintf("%s?format=json&url=%s", base, url.QueryEscape(videoURL))

	var payload struct {
		Title        string `json:"title"`
		ThumbnailURL string `json:"thumbnail_url"`
		AuthorName   string `json:"author_name"`
	}
	if err := c.get(ctx, string(p), u, &payload); err != nil {
		return domain.VideoMeta{}, err
	}
	return domain.VideoMeta{
		Title:        payload.Title,
		ThumbnailURL: payload.ThumbnailURL,
		AuthorName:   payload.AuthorName,
	}, nil
}

// get performs a GET with client-side rate limiting, retries, and JSON
// decode into out. Retries on 429 and transient 5xx, honoring Retry-After
// when provided.
func (c *Client) get(ctx context.Context, endpoint, u string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "bite-map/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("oembed", endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNotFound, http.StatusBadRequest:
			// oEmbed answers 400 for unresolvable links and 404 for
			// deleted videos; both mean the reference is dead.
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized, http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// Prefer server-provided Retry-After; otherwise exponential backoff.
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			// read a small error body for diagnostics
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	// seconds form
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	// HTTP-date form
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential backoff delay with concurrency-safe jitter.
// i = retry attempt (0,1,2,...). Base doubles each attempt (200ms, 400ms, 800ms...),
// with up to +50% random jitter to avoid thundering herds.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0                  // 0..1
	j := time.Duration(0.5 * f * float64(base)) // up to +50%
	return base + j
}
