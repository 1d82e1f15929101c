package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/featherdb/featherdb/pkg/config"
	"github.com/featherdb/featherdb/pkg/feather"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DefaultDim = 3
	if mutate != nil {
		mutate(cfg)
	}
	s := New(cfg, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Registry().CloseAll()
	})
	return s, ts
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	_, ts := testServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAddSearchFlow(t *testing.T) {
	_, ts := testServer(t, nil)

	for i := 1; i <= 3; i++ {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/vectors", addRequest{
			ID:     uint64(i),
			Vector: []float32{float32(i), 1, 0},
		}, nil)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/search", searchRequest{
		Vector: []float32{2, 1, 0},
		K:      2,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[struct {
		Results  []feather.SearchHit `json:"results"`
		Returned int                 `json:"returned"`
	}](t, resp)
	require.Equal(t, 2, out.Returned)
	assert.Equal(t, uint64(2), out.Results[0].ID)

	t.Run("dim mismatch is a 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/search", searchRequest{
			Vector: []float32{1, 0},
			K:      1,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown namespace is a 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/ghost/search", searchRequest{
			Vector: []float32{1, 0, 0},
			K:      1,
		}, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad namespace is a 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/bad..name/search", searchRequest{
			Vector: []float32{1, 0, 0},
			K:      1,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRecordEndpoints(t *testing.T) {
	_, ts := testServer(t, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/vectors", addRequest{
		ID:     7,
		Vector: []float32{1, 0, 0},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	t.Run("get", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/acme/records/7")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("touch then importance", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/records/7/touch", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doJSON(t, http.MethodPut, ts.URL+"/v1/acme/records/7/importance", importanceRequest{Importance: 0.5}, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		get, err := http.Get(ts.URL + "/v1/acme/records/7")
		require.NoError(t, err)
		defer get.Body.Close()
		meta := decode[map[string]any](t, get)
		assert.Equal(t, float64(1), meta["recall_count"])
		assert.Equal(t, 0.5, meta["importance"])
	})

	t.Run("link and export", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/vectors", addRequest{
			ID:     8,
			Vector: []float32{0, 1, 0},
		}, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doJSON(t, http.MethodPost, ts.URL+"/v1/acme/records/7/link", linkRequest{Target: 8, RelType: "supports", Weight: 0.9}, nil)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		get, err := http.Get(ts.URL + "/v1/acme/export")
		require.NoError(t, err)
		defer get.Body.Close()
		export := decode[feather.GraphExport](t, get)
		assert.Len(t, export.Nodes, 2)
		require.Len(t, export.Edges, 1)
		assert.Equal(t, uint64(8), export.Edges[0].Target)
	})

	t.Run("missing record is a 404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/acme/records/999")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("non-numeric record id is a 400", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/acme/records/abc")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSaveAndNamespaces(t *testing.T) {
	_, ts := testServer(t, nil)

	doJSON(t, http.MethodPost, ts.URL+"/v1/tenant1/vectors", addRequest{ID: 1, Vector: []float32{1, 0, 0}}, nil)
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tenant1/save", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	get, err := http.Get(ts.URL + "/v1/namespaces")
	require.NoError(t, err)
	defer get.Body.Close()
	out := decode[map[string][]string](t, get)
	assert.Contains(t, out["namespaces"], "tenant1")

	stats, err := http.Get(ts.URL + "/v1/namespaces/tenant1/stats")
	require.NoError(t, err)
	defer stats.Body.Close()
	st := decode[feather.Stats](t, stats)
	assert.Equal(t, 1, st.Records)
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekret"), bcrypt.MinCost)
	require.NoError(t, err)

	_, ts := testServer(t, func(c *config.Config) {
		c.Server.APIKeyHash = string(hash)
	})

	t.Run("missing key is a 401", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/vectors", addRequest{ID: 1, Vector: []float32{1, 0, 0}}, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key is a 401", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/vectors", addRequest{ID: 1, Vector: []float32{1, 0, 0}},
			map[string]string{"X-API-Key": "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("right key passes", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/acme/vectors", addRequest{ID: 1, Vector: []float32{1, 0, 0}},
			map[string]string{"X-API-Key": "sekret"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := testServer(t, nil)
	doJSON(t, http.MethodPost, ts.URL+"/v1/acme/vectors", addRequest{ID: 1, Vector: []float32{1, 0, 0}}, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "feather_http_requests_total")
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DefaultDim = 3

	reg := NewRegistry(cfg)
	db, err := reg.Get("acme", true)
	require.NoError(t, err)
	require.NoError(t, db.Add(1, []float32{1, 0, 0}, nil, ""))
	require.NoError(t, reg.CloseAll())

	reg2 := NewRegistry(cfg)
	db2, err := reg2.Get("acme", false)
	require.NoError(t, err)
	defer reg2.CloseAll()
	assert.Equal(t, 1, db2.Size())
	assert.Equal(t, []string{"acme"}, reg2.List())
}

func TestMalformedBody(t *testing.T) {
	_, ts := testServer(t, nil)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/acme/search", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
