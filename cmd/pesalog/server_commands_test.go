package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "server", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server is healthy")
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "server", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pesalog CLI")
	assert.Contains(t, out, "Version: dev")
}

func TestClientCommands(t *testing.T) {
	var deleted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == "GET" && r.URL.Path == "/api/v1/transactions":
			assert.Equal(t, "loop", r.URL.Query().Get("provider"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"transactions": []map[string]interface{}{
					{"id": 5, "provider": "loop", "external_id": "LP123", "type": "expense", "amount": "1500", "party": "Naivas"},
				},
				"count":      1,
				"pagination": map[string]interface{}{"total": 1, "limit": 50, "offset": 0},
			})
		case r.Method == "GET" && r.URL.Path == "/api/v1/summary":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"count":         2,
				"total_income":  "2030",
				"total_expense": "100",
				"total_fees":    "7",
				"balance":       "1923",
			})
		case r.Method == "POST" && r.URL.Path == "/api/v1/transactions":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "expense", body["type"])
			assert.Equal(t, "250.5", body["amount"])
			assert.Equal(t, "Groceries", body["title"])
			assert.Nil(t, body["provider"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"transaction": map[string]interface{}{"id": 11, "external_id": "MANUAL-1"},
				"duplicate":   false,
			})
		case r.Method == "DELETE" && r.URL.Path == "/api/v1/transactions/11":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	base := []string{"--server-url", server.URL, "--token", "secret"}

	out, err := runApp(t, append(base, "client", "list", "--provider", "loop")...)
	require.NoError(t, err)
	assert.Contains(t, out, "LP123")
	assert.Contains(t, out, "1500.00")

	out, err = runApp(t, append(base, "client", "summary")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Balance:      1923.00")

	out, err = runApp(t, append(base, "client", "add", "--type", "expense", "--amount", "250.50", "--title", "Groceries")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded transaction 11")

	_, err = runApp(t, append(base, "client", "add", "--type", "expense", "--amount", "lots", "--title", "x")...)
	assert.Error(t, err)

	out, err = runApp(t, append(base, "client", "delete", "11")...)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Contains(t, out, "Deleted transaction 11")
}
