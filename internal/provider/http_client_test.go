package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+254700000001", body["to"])
		assert.Equal(t, "hello", body["text"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message_id": "pm-42"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	id, err := c.Send(context.Background(), "+254700000001", "hello")
	require.NoError(t, err)
	assert.Equal(t, "pm-42", id)
}

func TestHTTPClientSendErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewHTTPClient(srv.URL, "k")

		_, err := c.Send(context.Background(), "+254700000001", "hello")
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.transient, IsTransient(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestHTTPClientNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(srv.URL, "k")
	_, err := c.Send(context.Background(), "+254700000001", "hello")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestHTTPClientPollStatusMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want DeliveryState
	}{
		{"delivered", StateDelivered},
		{"DELIVRD", StateDelivered},
		{"failed", StateFailed},
		{"undelivered", StateFailed},
		{"rejected", StateFailed},
		{"queued", StatePending},
		{"enroute", StatePending},
		{"something-new", StateUnknown},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/messages/pm-1/status", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"delivery_status": tc.raw})
		}))
		c := NewHTTPClient(srv.URL, "k")

		state, err := c.PollStatus(context.Background(), "pm-1")
		require.NoError(t, err, "raw %q", tc.raw)
		assert.Equal(t, tc.want, state, "raw %q", tc.raw)
		srv.Close()
	}
}

func TestHTTPClientPollStatusNotFoundIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k")
	state, err := c.PollStatus(context.Background(), "pm-gone")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
}
