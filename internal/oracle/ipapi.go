package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

// IPAPIClient queries an ip-api.com compatible JSON endpoint.
type IPAPIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewIPAPIClient creates a client for baseURL (e.g. http://ip-api.com).
// The caller bounds each lookup with its context; the client timeout is only a backstop.
func NewIPAPIClient(baseURL string) *IPAPIClient {
	return &IPAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
	Hosting     bool   `json:"hosting"`
}

// Lookup performs GET {base}/json/{ip}?fields=status,message,countryCode,hosting.
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) (models.Reputation, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=status,message,countryCode,hosting", c.baseURL, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Reputation{}, fmt.Errorf("%w: build request: %v", customerrors.ErrOracleUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Reputation{}, fmt.Errorf("%w: %v", customerrors.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Reputation{}, fmt.Errorf("%w: upstream status %d", customerrors.ErrOracleUnavailable, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Reputation{}, fmt.Errorf("%w: decode: %v", customerrors.ErrOracleUnavailable, err)
	}
	if body.Status != "success" {
		return models.Reputation{}, fmt.Errorf("%w: lookup %s failed: %s", customerrors.ErrOracleUnavailable, ip, body.Message)
	}
	if body.CountryCode == "" {
		return models.Reputation{}, fmt.Errorf("%w: empty country for %s", customerrors.ErrOracleUnavailable, ip)
	}

	return models.Reputation{
		CountryCode:  strings.ToUpper(body.CountryCode),
		IsDatacenter: body.Hosting,
	}, nil
}
