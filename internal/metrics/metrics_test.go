package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{0: "error", 200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 999: "error"}
	for code, want := range cases {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %q; want %q", code, got, want)
		}
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlerFetchesTotal == nil || crawlerBytesTotal == nil || crawlerRunsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveFetch("https://init.test/oferta", "detail", 200, 10)
	if val := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("init.test", "detail", "2xx")); val != 1 {
		t.Errorf("Expected crawlerFetchesTotal to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("init.test")); val != 10 {
		t.Errorf("Expected crawlerBytesTotal to be 10, got %f", val)
	}

	ObserveRun("init-entity", false)
	if val := testutil.ToFloat64(crawlerRunsTotal.WithLabelValues("init-entity", "failure")); val != 1 {
		t.Errorf("Expected crawlerRunsTotal to be 1, got %f", val)
	}

	ObserveImage("init-stored")
	if val := testutil.ToFloat64(crawlerImagesTotal.WithLabelValues("init-stored")); val != 1 {
		t.Errorf("Expected crawlerImagesTotal to be 1, got %f", val)
	}

	ObserveNotification("init-backend", errors.New("boom"))
	if val := testutil.ToFloat64(crawlerNotificationsTotal.WithLabelValues("init-backend", "failed")); val != 1 {
		t.Errorf("Expected crawlerNotificationsTotal to be 1, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
