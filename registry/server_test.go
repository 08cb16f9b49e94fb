package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/itsneelabh/agentrelay/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(newTestStore(t), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Routes(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/register", `{"name":"calc","capabilities":["math"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["uuid"]
	require.NotEmpty(t, id)

	rec = do(t, srv, http.MethodGet, "/discover?capability=MATH", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var refs []core.AgentRef
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, core.AgentRef{UUID: id, Name: "calc", Capabilities: []string{"math"}}, refs[0])

	rec = do(t, srv, http.MethodGet, "/discover?capability=weather", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/healthcheck", "")
	assert.JSONEq(t, `{"agent_count":1}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/agents/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"calc"`)

	rec = do(t, srv, http.MethodDelete, "/withdraw/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/withdraw/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Agent with UUID `+id+` not found."}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_RegisterRejectsBadBodies(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing name", `{"capabilities":["x"]}`},
		{"blank name", `{"name":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

// The client binding used by agents must work against the service unchanged.
func TestServer_WithHTTPRegistryClient(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	reg, err := core.NewHTTPRegistry(ts.URL)
	require.NoError(t, err)
	client := core.NewRegistryClient(reg, nil)

	id, err := client.Register(ctx, &core.AgentInfo{Name: "greeter", Capabilities: []string{"greeting"}})
	require.NoError(t, err)

	refs, err := client.Discover(ctx, "greet", core.DiscoverOptions{})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, id, refs[0].UUID)

	require.NoError(t, reg.Withdraw(ctx, id))
	err = reg.Withdraw(ctx, id)
	assert.True(t, errors.Is(err, core.ErrAgentNotFound))

	_, err = client.Discover(ctx, "greet", core.DiscoverOptions{})
	assert.True(t, errors.Is(err, core.ErrNoAgentsAvailable))
}
