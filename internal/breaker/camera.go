package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// CameraStats accumulates per-operation call counters, per spec.md §4.3:
// "{totalRequests, successes, failures, cumulativeDurationMs}".
type CameraStats struct {
	mu                 sync.Mutex
	TotalRequests      int64
	Successes          int64
	Failures           int64
	CumulativeDuration time.Duration
}

func (s *CameraStats) record(d time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	s.CumulativeDuration += d
	if ok {
		s.Successes++
	} else {
		s.Failures++
	}
}

// Snapshot returns a copy of the current counters.
func (s *CameraStats) Snapshot() CameraStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CameraStats{TotalRequests: s.TotalRequests, Successes: s.Successes, Failures: s.Failures, CumulativeDuration: s.CumulativeDuration}
}

// HealthStatus is the decoded /health response.
type HealthStatus struct {
	Status     string `json:"status"`
	Components struct {
		Database     string  `json:"database"`
		Camera       string  `json:"camera"`
		DiskSpaceGB  float64 `json:"disk_space_gb"`
	} `json:"components"`
	Timestamp time.Time `json:"timestamp"`
}

// CaptureResult is the decoded /capture response.
type CaptureResult struct {
	Status    string    `json:"status"`
	ImageID   string    `json:"image_id"`
	ImagePath string    `json:"image_path"`
	Timestamp time.Time `json:"timestamp"`
}

// FetchMetadata is returned alongside the artifact path by FetchLatestImage,
// per spec.md §4.3: "{success, attempts, totalTime, delaysUsed}".
type FetchMetadata struct {
	Success    bool
	Attempts   int
	TotalTime  time.Duration
	DelaysUsed []time.Duration
}

// CameraClient calls the household camera service's HTTP API (spec.md §6):
// /test, /health, /capture, /latest_image, /images, /image/<id>. Every
// operation is wrapped by a Breaker and a jittered retry loop, the same
// shape the sibling pack's bookowl.Client uses for its outbound JSON calls,
// generalized with the breaker/backoff machinery instead of a bare
// *http.Client.
type CameraClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *Breaker
	cache      AvailabilityCache
	backoff    BackoffPolicy
	stats      map[string]*CameraStats
	statsMu    sync.Mutex
}

// NewCameraClient builds a CameraClient. cache may be nil, in which case an
// in-process fallback is used.
func NewCameraClient(baseURL, apiKey string, cache AvailabilityCache) *CameraClient {
	if cache == nil {
		cache = NewInProcessAvailabilityCache(0)
	}
	return &CameraClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    New("camera", 5, 60*time.Second),
		cache:      cache,
		backoff:    DefaultBackoffPolicy(),
		stats:      make(map[string]*CameraStats),
	}
}

func (c *CameraClient) statsFor(op string) *CameraStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s, ok := c.stats[op]
	if !ok {
		s = &CameraStats{}
		c.stats[op] = s
	}
	return s
}

// Stats returns a snapshot of the counters for op ("health_check", "capture",
// "fetch_latest_image").
func (c *CameraClient) Stats(op string) CameraStats {
	return c.statsFor(op).Snapshot()
}

// BreakerState reports the client's circuit-breaker state, surfaced by the
// process health endpoint alongside C1's connection status.
func (c *CameraClient) BreakerState() State {
	return c.breaker.State()
}

func (c *CameraClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func (c *CameraClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling camera service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("camera service returned HTTP %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding camera response: %w", err)
	}
	return nil
}

// callGuarded consults the availability cache, runs fn through the breaker
// with a jittered retry loop, and marks the dependency available on
// success.
func (c *CameraClient) callGuarded(ctx context.Context, op string, maxAttempts int, fn func() error) error {
	policy := c.backoff
	if maxAttempts > 0 {
		policy.Attempts = maxAttempts
	}

	start := time.Now()
	err := RetryWithBackoff(ctx, policy, func() error {
		if available, _ := c.cache.IsAvailable(ctx, "camera"); !available {
			if !c.breaker.Allow() {
				return &ErrCircuitOpen{Dependency: "camera"}
			}
		}
		return c.breaker.Call(fn)
	})
	c.statsFor(op).record(time.Since(start), err == nil)
	if err == nil {
		_ = c.cache.MarkAvailable(ctx, "camera")
	}
	return err
}

// HealthCheck calls /health.
func (c *CameraClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	var result HealthStatus
	err := c.callGuarded(ctx, "health_check", 1, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
		if err != nil {
			return err
		}
		return c.do(req, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Capture calls /capture, requesting the camera take a new image.
func (c *CameraClient) Capture(ctx context.Context) (*CaptureResult, error) {
	var result CaptureResult
	err := c.callGuarded(ctx, "capture", 3, func() error {
		req, err := c.newRequest(ctx, http.MethodPost, "/capture", nil)
		if err != nil {
			return err
		}
		return c.do(req, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchLatestImage retrieves /latest_image and writes it to savePath (or a
// generated temp path if savePath is empty), retrying iteratively — never
// recursively — per spec.md §4.3. It returns the artifact path and a
// FetchMetadata describing the attempt history.
func (c *CameraClient) FetchLatestImage(ctx context.Context, savePath string) (string, FetchMetadata, error) {
	meta := FetchMetadata{}
	start := time.Now()

	policy := c.backoff
	policy.Attempts = 5

	var resolvedPath string
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		meta.Attempts++

		if err := ctx.Err(); err != nil {
			meta.TotalTime = time.Since(start)
			return "", meta, err
		}

		attemptErr := c.breaker.Call(func() error {
			req, err := c.newRequest(ctx, http.MethodGet, "/latest_image", nil)
			if err != nil {
				return err
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("calling camera service: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("camera service returned HTTP %d", resp.StatusCode)
			}

			path := savePath
			if path == "" {
				path = fmt.Sprintf("%s/camera-latest-%d.jpg", os.TempDir(), time.Now().UnixNano())
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating artifact file: %w", err)
			}
			defer f.Close()
			if _, err := io.Copy(f, resp.Body); err != nil {
				return fmt.Errorf("writing artifact: %w", err)
			}
			resolvedPath = path
			return nil
		})

		if attemptErr == nil {
			meta.Success = true
			meta.TotalTime = time.Since(start)
			c.statsFor("fetch_latest_image").record(meta.TotalTime, true)
			_ = c.cache.MarkAvailable(ctx, "camera")
			return resolvedPath, meta, nil
		}

		if attempt == policy.Attempts-1 {
			break
		}

		delay := policy.delay(attempt)
		meta.DelaysUsed = append(meta.DelaysUsed, delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			meta.TotalTime = time.Since(start)
			c.statsFor("fetch_latest_image").record(meta.TotalTime, false)
			return "", meta, ctx.Err()
		case <-timer.C:
		}
	}

	meta.TotalTime = time.Since(start)
	c.statsFor("fetch_latest_image").record(meta.TotalTime, false)
	return "", meta, fmt.Errorf("camera: fetch_latest_image failed after %d attempts", meta.Attempts)
}
