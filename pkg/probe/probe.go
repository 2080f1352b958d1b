// Package probe implements the pre-admission content-quality check: fetch
// a short summary of the candidate URL from an external service and accept
// only when the trimmed summary reaches a minimum length. Every failure
// mode — misconfiguration, network error, timeout, non-2xx, malformed
// response — rejects with a descriptive reason, never accepts by default.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/blogcast/blogcast/pkg/config"
)

// Result carries the probe's verdict on one URL.
type Result struct {
	Accepted bool
	Reason   string
	// Summary is the trimmed summary text (empty when the call failed).
	Summary string
}

// Prober fetches content summaries and applies the acceptance rule.
type Prober struct {
	endpoint   string
	apiKey     string
	minChars   int
	httpClient *http.Client
}

// New creates a prober from configuration.
func New(cfg *config.ProbeConfig) *Prober {
	return &Prober{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		minChars:   cfg.MinChars,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// summaryResponse is the summary service's response envelope.
type summaryResponse struct {
	Summary string `json:"summary"`
}

// Probe fetches the summary for candidateURL and applies the minimum-length
// rule. The error return is non-nil only when the external service could
// not deliver a verdict (admission maps that to "probe unavailable");
// a too-short summary is a clean rejection with a nil error.
func (p *Prober) Probe(ctx context.Context, candidateURL string) (Result, error) {
	if p.endpoint == "" || p.apiKey == "" {
		return Result{Reason: "summary service is not configured"},
			fmt.Errorf("summary service misconfigured: endpoint or credential missing")
	}

	reqURL := p.endpoint + "/summarize?url=" + url.QueryEscape(candidateURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{Reason: "summary request could not be created"},
			fmt.Errorf("create summary request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{Reason: "summary service unreachable"},
			fmt.Errorf("fetch summary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Reason: fmt.Sprintf("summary service returned HTTP %d", resp.StatusCode)},
			fmt.Errorf("summary service returned HTTP %d", resp.StatusCode)
	}

	var body summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Reason: "summary service returned a malformed response"},
			fmt.Errorf("decode summary response: %w", err)
	}

	summary := strings.TrimSpace(body.Summary)
	if len([]rune(summary)) < p.minChars {
		return Result{
			Accepted: false,
			Reason:   fmt.Sprintf("summary too short: %d chars, need at least %d", len([]rune(summary)), p.minChars),
			Summary:  summary,
		}, nil
	}

	return Result{Accepted: true, Summary: summary}, nil
}
