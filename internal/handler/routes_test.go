package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"dynhost/internal/client"
	"dynhost/internal/command"
	"dynhost/internal/config"
	"dynhost/internal/discovery"
	"dynhost/internal/endpoint"
	"dynhost/internal/hostctx"
	"dynhost/internal/model"
	"dynhost/internal/service"
	"dynhost/internal/stub"
)

// newTestServer runs the routes behind a real listener with the full
// outgoing chain, discovery pointing back at the server itself.
func newTestServer(t *testing.T) (*httptest.Server, *echo.Echo) {
	t.Helper()
	e := echo.New()
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	self := endpoint.Endpoint(strings.TrimPrefix(srv.URL, "http://"))

	cfg := &config.Config{
		Transport: config.TransportConfig{ConnectTimeoutMS: 1000, ReadTimeoutMS: 5000, IdleConnections: 4},
		Command:   config.CommandConfig{Workers: 4, QueueSize: 16, TimeoutMS: 5000},
		Services: map[string]config.ServiceConfig{
			stub.CustomHostService: {Instances: []string{self.String()}},
		},
	}
	logger := discardLogger()

	plugins := command.NewPlugins()
	hostctx.NewCarrier(logger, nil).Install(plugins)
	exec := command.NewExecutor(cfg, plugins, logger, nil)
	t.Cleanup(exec.Close)

	registry := discovery.NewRegistry(cfg)
	rewriter := service.NewRewriter(client.NewHTTPClient(cfg, logger, nil), logger, nil)
	chain := discovery.NewBalancer(rewriter, registry, logger)
	caller := stub.NewCustomHost(stub.NewInvoker(stub.CustomHostService, chain, exec, model.DefaultOptions(), logger))

	RegisterRoutes(e, NewDemoHandler(caller, self, logger), NewHealthHandler(registry, plugins, "test"))
	return srv, e
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"GET /healthz", "/healthz", http.StatusOK, ""},
		{"GET /status", "/status", http.StatusOK, ""},
		{"GET mock server", "/custom_feign_feign/mock_server", http.StatusOK, "OK"},
		{"GET /test1", "/test1", http.StatusOK, "test1"},
		{"GET /test", "/test", http.StatusOK, "OK"},
		{"GET /test bad host", "/test?host=a/b", http.StatusBadRequest, ""},
		{"GET /test unreachable host", "/test?host=127.0.0.1:1", http.StatusBadGateway, ""},
		{"GET /unknown returns 404", "/unknown", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}
		})
	}
}

func TestRegisterRoutes_Concurrent(t *testing.T) {
	srv, _ := newTestServer(t)
	self := strings.TrimPrefix(srv.URL, "http://")

	resp, err := http.Get(srv.URL + "/test/concurrent?hosts=" + self + "," + self)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var results []ConcurrentResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2", results)
	}
	for _, r := range results {
		if r.Host != self || r.Response != "OK" {
			t.Errorf("result = %+v, want host %s answering OK", r, self)
		}
	}
}
