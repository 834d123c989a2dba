package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/proxy-scraper-checker/internal/config"
	"github.com/proxy-scraper-checker/internal/types"
	"golang.org/x/time/rate"
)

// apiResponse is the ip-api.com JSON contract.
type apiResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
}

// Client resolves IPs to locations against an ip-api style service.
// Requests are paced with a rate limiter because the public endpoint
// enforces a per-minute quota.
type Client struct {
	apiURL  string
	hc      *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg config.GeoConfig) *Client {
	perSecond := float64(cfg.RateLimitPerMinute) / 60.0
	return &Client{
		apiURL: cfg.APIURL,
		hc: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Lookup resolves one IP. Any failure (transport error, quota, unknown IP)
// is returned as an error and never as fabricated location data.
func (c *Client) Lookup(ctx context.Context, ip string) (*types.GeoInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geo rate wait: %w", err)
	}

	url := fmt.Sprintf("%s/%s?fields=status,message,country,regionName,city", c.apiURL, ip)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup %s: HTTP %d", ip, resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode lookup %s: %w", ip, err)
	}

	if body.Status != "success" {
		if body.Message != "" {
			return nil, fmt.Errorf("lookup %s: %s", ip, body.Message)
		}
		return nil, fmt.Errorf("lookup %s: status %q", ip, body.Status)
	}

	return &types.GeoInfo{
		Country: body.Country,
		Region:  body.RegionName,
		City:    body.City,
	}, nil
}
