package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/orchestrator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/pipeline"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/tracker"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// fakeRunner satisfies the orchestrator's Runner without training anything.
// Handler tests never start the dispatch loop, so it is never invoked.
type fakeRunner struct{}

func (fakeRunner) Run(_ context.Context, _ pipeline.RunRequest) (*pipeline.Result, error) {
	return &pipeline.Result{}, nil
}

// memGateway is the in-memory object store backing the registry handlers.
type memGateway struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemGateway() *memGateway {
	return &memGateway{objects: map[string][]byte{}}
}

func (m *memGateway) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memGateway) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errs.NotFound("memgateway.Get", "key %s", key)
	}
	return data, nil
}

func (m *memGateway) List(_ context.Context, prefix, delimiter string) ([]string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	prefixSet := map[string]bool{}
	for key := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				prefixSet[prefix+rest[:idx+len(delimiter)]] = true
				continue
			}
		}
		keys = append(keys, key)
	}
	var prefixes []string
	for p := range prefixSet {
		prefixes = append(prefixes, p)
	}
	return keys, prefixes, nil
}

func (m *memGateway) Copy(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[src]
	if !ok {
		return errs.NotFound("memgateway.Copy", "key %s", src)
	}
	m.objects[dst] = append([]byte(nil), data...)
	return nil
}

func (m *memGateway) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// newTestServer wires the server onto in-memory components.
func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()

	orch := orchestrator.New(orchestrator.Params{
		Store:  orchestrator.NewMemJobStore(),
		Runner: fakeRunner{},
	})
	engine := hpo.New(hpo.Params{Store: hpo.NewMemStudyStore()})
	reg := registry.New(newMemGateway(), nil)
	features := featurestore.NewStore(featurestore.StoreParams{})
	trk := tracker.New(tracker.Params{
		Store: tracker.NewMemStore(),
		Files: afero.NewMemMapFs(),
	})

	config, err := NewConfig()
	require.NoError(t, err)

	server := NewServer(Params{
		Config:       config,
		Orchestrator: orch,
		HPO:          engine,
		Registry:     reg,
		Features:     features,
		Tracker:      trk,
	})
	return server, server.Router()
}

// doJSON performs one request against the router and decodes the response
// body into a generic map.
func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if len(rec.Body.Bytes()) > 0 && rec.Header().Get("Content-Type") != "application/octet-stream" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded),
			"response body: %s", rec.Body.String())
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	_, router := newTestServer(t)
	rec, body := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}

func TestReadyDegrades(t *testing.T) {
	server, _ := newTestServer(t)
	server.readiness = []ReadyCheck{
		{Name: "database", Check: func(context.Context) error { return nil }},
		{Name: "cache", Check: func(context.Context) error { return errs.Unavailable("ping", errs.ErrUnavailable) }},
	}
	rec, body := doJSON(t, server.Router(), http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := body["checks"].(map[string]any)
	require.Equal(t, "ok", checks["database"])
	require.NotEqual(t, "ok", checks["cache"])
}
