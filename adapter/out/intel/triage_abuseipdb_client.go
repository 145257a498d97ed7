package intel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"triage_server/core/port/out"
	"triage_server/pkg/httputil"
)

const abuseIPDBBaseURL = "https://api.abuseipdb.com/api/v2"

// AbuseIPDBClient looks up IP abuse confidence scores.
type AbuseIPDBClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAbuseIPDBClient creates a client. baseURL overrides are for tests.
func NewAbuseIPDBClient(apiKey, baseURL string) *AbuseIPDBClient {
	if baseURL == "" {
		baseURL = abuseIPDBBaseURL
	}
	return &AbuseIPDBClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httputil.IntelClient(),
	}
}

type abuseIPDBResponse struct {
	Data *struct {
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		TotalReports         int    `json:"totalReports"`
		CountryCode          string `json:"countryCode"`
	} `json:"data"`
}

// Lookup checks one IP against the last 90 days of reports.
func (c *AbuseIPDBClient) Lookup(ctx context.Context, ip string) (*out.IPReputation, error) {
	params := url.Values{}
	params.Set("ipAddress", ip)
	params.Set("maxAgeInDays", "90")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/check?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("abuseipdb request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("abuseipdb status %d: %s", resp.StatusCode, body)
	}

	var parsed abuseIPDBResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("abuseipdb response decode: %w", err)
	}
	if parsed.Data == nil {
		return nil, fmt.Errorf("abuseipdb response missing data")
	}

	return &out.IPReputation{
		IP:           ip,
		AbuseScore:   parsed.Data.AbuseConfidenceScore,
		TotalReports: parsed.Data.TotalReports,
		CountryCode:  parsed.Data.CountryCode,
	}, nil
}
