package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"yuzu/concierge/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type Status struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h Status) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Pinger is satisfied by the transcript sink's Redis connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Checker struct {
	cfg    config.Config
	redis  Pinger
	client *http.Client

	DailyBase  string
	ElevenBase string
}

func NewChecker(cfg config.Config, redis Pinger) *Checker {
	return &Checker{
		cfg:        cfg,
		redis:      redis,
		client:     &http.Client{Timeout: 10 * time.Second},
		DailyBase:  "https://api.daily.co/v1",
		ElevenBase: "https://api.elevenlabs.io/v1",
	}
}

// CheckAll runs every check concurrently. Each persona voice is checked on
// its own so a missing voice names the persona.
func (c *Checker) CheckAll(ctx context.Context) Status {
	checks := []func(context.Context) CheckResult{c.checkDaily, c.checkRedis}
	voices := map[string]string{
		"router":  c.cfg.Personas.RouterVoice,
		"support": c.cfg.Personas.SupportVoice,
		"booking": c.cfg.Personas.BookingVoice,
	}
	for name, id := range voices {
		checks = append(checks, func(ctx context.Context) CheckResult { return c.checkVoice(ctx, name, id) })
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, fn := range checks {
		wg.Add(1)
		go func(i int, fn func(context.Context) CheckResult) {
			defer wg.Done()
			results[i] = fn(ctx)
		}(i, fn)
	}
	wg.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	allOK := true
	for _, r := range results {
		if !r.OK {
			allOK = false
		}
	}
	return Status{OK: allOK, Checks: results, CheckedAt: time.Now().UTC()}
}

func (c *Checker) checkDaily(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "daily"}

	if c.cfg.Daily.APIKey == "" {
		result.Error = "DAILY_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	// Listing one room is the cheapest authenticated call.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DailyBase+"/rooms?limit=1", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Daily.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	result.Latency = time.Since(start)

	if resp.StatusCode == http.StatusUnauthorized {
		result.Error = "invalid API key (401)"
		return result
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	result.OK = true
	return result
}

func (c *Checker) checkVoice(ctx context.Context, persona, voiceID string) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "elevenlabs_voice_" + persona}

	if c.cfg.Eleven.APIKey == "" {
		result.Error = "ELEVENLABS_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}
	if voiceID == "" {
		result.Error = fmt.Sprintf("no voice id for %s", persona)
		result.Latency = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ElevenBase+"/voices/"+voiceID, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("xi-api-key", c.cfg.Eleven.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	result.Latency = time.Since(start)

	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		result.OK = true
	case http.StatusUnauthorized:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("invalid API key (401): %s", string(body))
	case http.StatusNotFound:
		result.Error = fmt.Sprintf("voice ID %q not found", voiceID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return result
}

func (c *Checker) checkRedis(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "redis"}
	if c.redis == nil {
		result.Error = "REDIS_ADDR not set"
		result.Latency = time.Since(start)
		return result
	}
	err := c.redis.Ping(ctx)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.OK = true
	return result
}
