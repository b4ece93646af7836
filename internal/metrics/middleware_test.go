package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// durationRoutes returns the route labels observed by the latency histogram.
func durationRoutes(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	routes := make(map[string]bool)
	for _, mf := range families {
		if mf.GetName() != "http_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" {
					routes[l.GetValue()] = true
				}
			}
		}
	}
	return routes
}

func TestMiddlewareLabelsRoutePatterns(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/v1/offers/{resource_id}/history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	missing := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	for _, path := range []string{"/v1/runs/run-1", "/v1/runs/run-2", "/v1/offers/ID4abc/history", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")) - ok; got != 2 {
		t.Errorf("expected 2 successful run lookups, got %f", got)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")) - missing; got != 2 {
		t.Errorf("expected 2 not-found responses, got %f", got)
	}

	routes := durationRoutes(t)
	for _, want := range []string{"/v1/runs/{run_id}", "/v1/offers/{resource_id}/history", "unknown"} {
		if !routes[want] {
			t.Errorf("expected latency series for route %q, got %v", want, routes)
		}
	}
	if routes["/v1/runs/run-1"] {
		t.Error("raw request path leaked into the route label")
	}
}
