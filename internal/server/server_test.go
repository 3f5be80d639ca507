package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/metrics"
	"caseline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := prometheus.NewRegistry()
	e := engine.New(conn, config.Default())
	e.Metrics = metrics.New(reg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevLogin: true, AllowLegacyActorHeader: true},
		Gatherer: reg,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actorID, role string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID, "X-Actor-Role": role}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v (%s)", err, string(data))
	}
	return env.Error
}

func submitCertificate(t *testing.T, srv *testServer) domain.CertificateRequest {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/certificates", map[string]any{
		"resident_ref":     "res-1",
		"certificate_type": "barangay_clearance",
		"purpose":          "employment",
	}, as("staff-1", "staff"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var c domain.CertificateRequest
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal certificate: %v", err)
	}
	return c
}

func TestCertificateReleaseAndVerify(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := submitCertificate(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/certificates/"+c.ID+"/approve", nil, as("cap-1", "captain"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/certificates/"+c.ID+"/release", map[string]any{"remarks": "claimed at counter"}, as("staff-1", "staff"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("release status %d: %s", res.StatusCode, string(data))
	}
	var released ReleaseResponse
	if err := json.Unmarshal(data, &released); err != nil {
		t.Fatalf("unmarshal release: %v", err)
	}
	if released.Request.ApprovalState != domain.StateReleased {
		t.Fatalf("expected released, got %s", released.Request.ApprovalState)
	}
	if !strings.HasPrefix(released.Issued.CertificateNumber, "BC-") {
		t.Fatalf("unexpected number %s", released.Issued.CertificateNumber)
	}

	// Verification needs no credentials and never exposes the request.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/verify/"+released.Issued.CertificateNumber, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	if strings.Contains(string(data), c.ID) {
		t.Fatalf("verification leaked request id: %s", string(data))
	}
	var v domain.Verification
	_ = json.Unmarshal(data, &v)
	if !v.Exists || !v.IsValid {
		t.Fatalf("expected valid certificate, got %+v", v)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/verify/BC-1999-000001", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify unknown status %d: %s", res.StatusCode, string(data))
	}
	v = domain.Verification{}
	_ = json.Unmarshal(data, &v)
	if v.Exists {
		t.Fatalf("unknown number reported as existing")
	}
}

func TestIllegalTransitionMapsToConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := submitCertificate(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/certificates/"+c.ID+"/reject", map[string]any{}, as("cap-1", "captain"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing remarks, got %d %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Details["field"] != "remarks" {
		t.Fatalf("expected remarks field, got %+v", body)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/certificates/"+c.ID+"/reject", map[string]any{"remarks": "no cedula"}, as("cap-1", "captain"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/certificates/"+c.ID+"/release", nil, as("staff-1", "staff"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(data))
	}
	body := decodeError(t, data)
	if body.Code != "illegal_transition" || body.Details["from"] != "rejected" || body.Details["to"] != "released" {
		t.Fatalf("unexpected error body %+v", body)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/certificates/"+c.ID+"/approve", nil, as("cap-1", "captain"))
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Code != "stale_state" {
		t.Fatalf("expected stale_state, got %d %s", res.StatusCode, string(data))
	}
}

func TestBlotterProgressAndQueue(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/blotters", map[string]any{
		"complainant":   map[string]any{"is_resident": true, "resident_ref": "res-1"},
		"respondent":    map[string]any{"is_resident": false, "full_name": "Pedro Reyes", "age": 40, "address": "Sitio Malinis"},
		"incident_type": "trespass",
		"incident_at":   time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		"location":      "Purok 2",
		"narrative":     "entered the yard",
	}, as("staff-1", "staff"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit blotter %d: %s", res.StatusCode, string(data))
	}
	var b domain.BlotterCase
	_ = json.Unmarshal(data, &b)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/queue/count", nil, as("staff-1", "staff"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("count %d: %s", res.StatusCode, string(data))
	}
	var stats domain.PendingStats
	_ = json.Unmarshal(data, &stats)
	if stats.TotalPending != 1 || stats.Blotters != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/blotters/"+b.ID+"/progress", map[string]any{"progress": "Ongoing"}, as("staff-1", "staff"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("progress before approval should conflict, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/blotters/"+b.ID+"/approve", nil, as("cap-1", "captain"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve blotter %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/blotters/"+b.ID+"/progress", map[string]any{"progress": "Resolved"}, as("staff-1", "staff"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &b)
	if b.Progress != domain.ProgressResolved {
		t.Fatalf("expected Resolved, got %s", b.Progress)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/queue?kind=blotter", nil, as("staff-1", "staff"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue %d: %s", res.StatusCode, string(data))
	}
	var list engine.PendingList
	_ = json.Unmarshal(data, &list)
	if len(list.Items) != 0 || list.Statistics.TotalPending != 0 {
		t.Fatalf("expected empty queue, got %+v", list)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/queue?kind=permit", nil, as("staff-1", "staff"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown kind, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/queue/count", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/queue/count", nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "cap-1", "role": "captain"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.ActorID != "cap-1" || me.Role != "captain" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}

	// captain cannot mint keys; admin can, and the key carries its role.
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{"actor_id": "kiosk", "role": "staff"}, bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{"actor_id": "kiosk", "role": "staff", "name": "front desk"}, as("admin-1", "admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	_ = json.Unmarshal(data, &key)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with key %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &me)
	if me.ActorID != "kiosk" || me.Role != "staff" || me.Source != "api_key" {
		t.Fatalf("unexpected key principal %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/apikeys?actor_id=kiosk", nil, as("admin-1", "admin"))
	if res.StatusCode != http.StatusOK || strings.Contains(string(data), "key_hash") || !strings.Contains(string(data), key.ID) {
		t.Fatalf("list keys %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/apikeys/"+key.ID, nil, as("admin-1", "admin"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on revoke, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked key, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, as("res-9", "resident"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for resident events read, got %d %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Details["operation"] != "events.read" {
		t.Fatalf("unexpected forbidden body %+v", body)
	}
}

func TestNotFoundAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/incidents/missing", nil, as("staff-1", "staff"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}

	c := submitCertificate(t, srv)
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/certificates/"+c.ID+"/approve", nil, as("cap-1", "captain"))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `caseline_transitions_total{kind="certificate",transition="approved"} 1`) {
		t.Fatalf("transition counter missing from metrics output:\n%s", string(data))
	}
}
