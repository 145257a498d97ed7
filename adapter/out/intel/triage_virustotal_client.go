// Package intel implements the HTTP clients behind the reputation
// ports: VirusTotal for URLs, AbuseIPDB for IPs, and RDAP for domain
// registration dates.
package intel

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"triage_server/core/port/out"
	"triage_server/pkg/httputil"
)

const virusTotalBaseURL = "https://www.virustotal.com/api/v3"

// VirusTotalClient looks up URL verdicts via the VirusTotal v3 API.
type VirusTotalClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewVirusTotalClient creates a client. baseURL overrides are for tests.
func NewVirusTotalClient(apiKey, baseURL string) *VirusTotalClient {
	if baseURL == "" {
		baseURL = virusTotalBaseURL
	}
	return &VirusTotalClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httputil.IntelClient(),
	}
}

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats *struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup fetches the last analysis stats for a URL. VirusTotal keys
// URL objects by the unpadded base64url of the URL itself.
func (c *VirusTotalClient) Lookup(ctx context.Context, target string) (*out.URLReputation, error) {
	id := base64.RawURLEncoding.EncodeToString([]byte(target))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/urls/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("virustotal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Never scanned: treat as a clean verdict.
		return &out.URLReputation{URL: target}, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("virustotal status %d: %s", resp.StatusCode, body)
	}

	var parsed vtResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("virustotal response decode: %w", err)
	}

	stats := parsed.Data.Attributes.LastAnalysisStats
	if stats == nil {
		return nil, fmt.Errorf("virustotal response missing last_analysis_stats")
	}

	return &out.URLReputation{
		URL:             target,
		MaliciousCount:  stats.Malicious,
		SuspiciousCount: stats.Suspicious,
		TotalEngines:    stats.Malicious + stats.Suspicious + stats.Harmless + stats.Undetected,
	}, nil
}
