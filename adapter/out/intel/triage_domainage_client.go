package intel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"triage_server/core/port/out"
	"triage_server/pkg/httputil"
)

const rdapBaseURL = "https://rdap.org"

// DomainAgeClient resolves domain registration dates over RDAP, which
// needs no API key.
type DomainAgeClient struct {
	baseURL string
	client  *http.Client
}

// NewDomainAgeClient creates a client. baseURL overrides are for tests.
func NewDomainAgeClient(baseURL string) *DomainAgeClient {
	if baseURL == "" {
		baseURL = rdapBaseURL
	}
	return &DomainAgeClient{
		baseURL: baseURL,
		client:  httputil.IntelClient(),
	}
}

type rdapResponse struct {
	Events []struct {
		EventAction string `json:"eventAction"`
		EventDate   string `json:"eventDate"`
	} `json:"events"`
}

// Lookup returns the registration date for a domain.
func (c *DomainAgeClient) Lookup(ctx context.Context, domain string) (*out.DomainInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/domain/"+domain, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rdap request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rdap status %d: %s", resp.StatusCode, body)
	}

	var parsed rdapResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("rdap response decode: %w", err)
	}

	for _, event := range parsed.Events {
		if !strings.EqualFold(event.EventAction, "registration") {
			continue
		}
		registered, err := time.Parse(time.RFC3339, event.EventDate)
		if err != nil {
			return nil, fmt.Errorf("rdap registration date %q: %w", event.EventDate, err)
		}
		return &out.DomainInfo{Domain: domain, RegisteredAt: registered}, nil
	}

	return nil, fmt.Errorf("rdap response has no registration event")
}
