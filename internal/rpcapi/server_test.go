package rpcapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/debangeedas/DBP-2025/internal/chain"
	"github.com/debangeedas/DBP-2025/internal/node"
	"github.com/debangeedas/DBP-2025/internal/peers"
)

func newTestServer(t *testing.T, isMiner bool) (*Server, *node.Node) {
	t.Helper()
	dir := t.TempDir()
	reg, err := peers.New(filepath.Join(dir, "nodes_config.json"), "localhost", 6200, isMiner)
	require.NoError(t, err)
	l := chain.NewLedger(1)
	n := node.New("localhost", 6200, l, reg, isMiner, time.Minute)
	s := New("localhost:6200", n)
	return s, n
}

func (s *Server) testMux() http.Handler {
	return s.http.Handler
}

func TestHandleNewTransactionSuccess(t *testing.T) {
	s, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]interface{}{"sender": "alice", "recipient": "bob", "amount": 10})
	req := httptest.NewRequest(http.MethodPost, "/transactions/new", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleNewTransactionMissingFields(t *testing.T) {
	s, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]interface{}{"sender": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/transactions/new", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleNewTransactionInsufficientFunds(t *testing.T) {
	s, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]interface{}{"sender": "alice", "recipient": "bob", "amount": 150})
	req := httptest.NewRequest(http.MethodPost, "/transactions/new", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Insufficient funds: 100.0 < 150.0", resp["reason"])
}

func TestHandleChainAndValidate(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/chain", nil)
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/chain/validate", nil)
	rec = httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["valid"])
}

func TestHandleMineForbiddenOnNonMiner(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/mine", nil)
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleMineNoTransactions(t *testing.T) {
	s, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/mine", nil)
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBlockAtNotFound(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/blocks/99", nil)
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleBalanceDefaultsToZeroForUnseenAddress(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/balance/unseen", nil)
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(0), resp["balance"])
}

func TestHandleNodesRegisterAndPeers(t *testing.T) {
	s, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]interface{}{"nodes": []string{"http://peer.example:7000"}})
	req := httptest.NewRequest(http.MethodPost, "/nodes/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/nodes/peers", nil)
	rec = httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 2, resp["total_count"]) // default primary + newly registered peer
}

func TestHandleNodesAnnounceRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]interface{}{"host": "peer.example"})
	req := httptest.NewRequest(http.MethodPost, "/nodes/announce", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleNodesInfo(t *testing.T) {
	s, n := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/nodes/info", nil)
	rec := httptest.NewRecorder()
	s.testMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var info node.NodeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, n.NodeAddress(), info.Address)
	require.True(t, info.MinerMode)
}
