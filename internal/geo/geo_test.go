package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/proxy-scraper-checker/internal/config"
)

func newTestClient(apiURL string) *Client {
	return NewClient(config.GeoConfig{
		APIURL:             apiURL,
		TimeoutMs:          2000,
		RateLimitPerMinute: 6000,
	})
}

func TestLookupSuccess(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"status":"success","country":"Germany","regionName":"Hesse","city":"Frankfurt"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	info, err := client.Lookup(context.Background(), "93.184.216.34")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if info.Country != "Germany" || info.Region != "Hesse" || info.City != "Frankfurt" {
		t.Errorf("Unexpected location: %+v", info)
	}
	if gotPath != "/93.184.216.34" {
		t.Errorf("Expected the IP in the request path, got %q", gotPath)
	}
	if !strings.Contains(gotQuery, "fields=") {
		t.Errorf("Expected a fields selector in the query, got %q", gotQuery)
	}
}

func TestLookupFailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"private range"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	info, err := client.Lookup(context.Background(), "10.0.0.1")
	if err == nil {
		t.Fatal("Expected an error for a fail status")
	}
	if info != nil {
		t.Errorf("Expected no location data on failure, got %+v", info)
	}
	if !strings.Contains(err.Error(), "private range") {
		t.Errorf("Expected the service message in the error, got %v", err)
	}
}

func TestLookupHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if _, err := client.Lookup(context.Background(), "8.8.8.8"); err == nil {
		t.Fatal("Expected an error for HTTP 429")
	}
}

func TestLookupMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if _, err := client.Lookup(context.Background(), "8.8.8.8"); err == nil {
		t.Fatal("Expected an error for a malformed body")
	}
}

func TestLookupCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","country":"X","regionName":"Y","city":"Z"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(srv.URL)
	if _, err := client.Lookup(ctx, "8.8.8.8"); err == nil {
		t.Fatal("Expected an error for a cancelled context")
	}
}
