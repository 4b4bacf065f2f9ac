package peers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "nodes_config.json"), "localhost", 6000, false)
	require.NoError(t, err)
	return r
}

func TestNewCreatesDefaultConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes_config.json")

	r, err := New(path, "localhost", 6000, true)
	require.NoError(t, err)

	peers := r.AllPeers()
	require.Len(t, peers, 1)
	require.Equal(t, "miner", peers[0].NodeType)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var pf peerFile
	require.NoError(t, json.Unmarshal(b, &pf))
	require.Len(t, pf.Nodes, 1)
}

func TestRegisterRefusesSelf(t *testing.T) {
	r := newTestRegistry(t)
	ok := r.Register("localhost:6000")
	require.False(t, ok)
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	require.True(t, r.Register("http://example.com:7000"))
	require.False(t, r.Register("example.com:7000"))
	require.Len(t, r.AllPeers(), 2) // default primary + example.com
}

func TestRecordActiveUpsertsAndMarksLive(t *testing.T) {
	r := newTestRegistry(t)
	r.RecordActive("peer.example", 7001, "full", "Peer One")

	require.True(t, r.IsActive("peer.example", 7001, false))

	peers := r.AllPeers()
	var found bool
	for _, p := range peers {
		if p.Host == "peer.example" && p.Port == 7001 {
			found = true
			require.Equal(t, "full", p.NodeType)
			require.Equal(t, "Peer One", p.Name)
		}
	}
	require.True(t, found)
}

func TestIsActiveExpiresAfterTimeout(t *testing.T) {
	r := newTestRegistry(t)
	r.SetActivityTimeout(10 * time.Millisecond)
	r.RecordActive("peer.example", 7001, "full", "")

	require.True(t, r.IsActive("peer.example", 7001, false))
	time.Sleep(20 * time.Millisecond)
	require.False(t, r.IsActive("peer.example", 7001, false))
}

func TestIsActiveForceProbeRevivesStaleEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port, err := parseHostPort(srv.URL)
	require.NoError(t, err)

	r := newTestRegistry(t)
	require.False(t, r.IsActive(host, port, false))
	require.True(t, r.IsActive(host, port, true))
}

func TestActiveNodesExcludesSelfAndInactive(t *testing.T) {
	r := newTestRegistry(t)
	r.RecordActive("alive.example", 7002, "full", "")
	r.Register("localhost:6000") // no-op: refused as self, never becomes a peer entry
	r.RecordActive("localhost", 6000, "full", "")

	active := r.ActiveNodes(true, false)
	require.Len(t, active, 1)
	require.Equal(t, "alive.example", active[0].Host)
}

func TestAnnounceRecordsPeerAndItsActiveNodes(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		resp := map[string]interface{}{
			"message": "ok",
			"node": map[string]interface{}{
				"host":      "responder.example",
				"port":      9000,
				"node_type": "full",
				"name":      "Responder",
				"active_nodes": []map[string]interface{}{
					{"host": "third.example", "port": 9100, "node_type": "miner"},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r := newTestRegistry(t)
	r.Register(srv.URL)

	self := SelfInfo{Host: "localhost", Port: 6000, NodeType: "full", Name: "Self"}
	r.Announce(self, nil)

	require.Equal(t, "localhost", gotBody["host"])

	require.True(t, r.IsActive("responder.example", 9000, false))
	require.True(t, r.IsActive("third.example", 9100, false))
}
