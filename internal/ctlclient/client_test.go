package ctlclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/nodes/info", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"address": "localhost:5000"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	var resp map[string]interface{}
	require.NoError(t, c.Get("nodes/info", &resp))
	require.Equal(t, "localhost:5000", resp["address"])
}

func TestPostSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "alice", body["sender"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"message": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	var resp map[string]interface{}
	require.NoError(t, c.Post("transactions/new", map[string]interface{}{"sender": "alice"}, &resp))
	require.Equal(t, "ok", resp["message"])
}
