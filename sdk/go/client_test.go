package caselinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsCredentialsAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.Header.Get("X-Api-Key"))
		switch r.URL.Path {
		case "/v1/certificates":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "residency", body["certificate_type"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "c-1", "approval_state": "pending", "certificate_type": "residency"})
		case "/v1/queue":
			assert.Equal(t, "certificate,blotter", r.URL.Query().Get("kind"))
			json.NewEncoder(w).Encode(map[string]any{
				"items":      []map[string]any{{"kind": "certificate", "id": "c-1", "title": "Certificate of Residency"}},
				"statistics": map[string]any{"total_pending": 1, "certificates": 1},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "secret-key"
	req, err := c.SubmitCertificate(context.Background(), "res-1", "residency", "school")
	require.NoError(t, err)
	assert.Equal(t, "c-1", req.ID)
	assert.Equal(t, "pending", req.ApprovalState)

	list, err := c.Pending(context.Background(), "certificate", "blotter")
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Statistics.TotalPending)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"illegal_transition","message":"illegal","details":{"from":"rejected","to":"released"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.ReleaseCertificate(context.Background(), "c-1", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsConflict())
	assert.Equal(t, "illegal_transition", apiErr.Code)
	assert.Equal(t, "rejected", apiErr.Details["from"])
}
