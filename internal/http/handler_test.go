package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/neuroweave/internal/crypto"
	"github.com/nextlevelbuilder/neuroweave/internal/envelope"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
	"github.com/nextlevelbuilder/neuroweave/internal/store/file"
	"github.com/nextlevelbuilder/neuroweave/pkg/protocol"
)

const retroMEV = `{
  "id": "mem_1",
  "type": "episodic.task.intent",
  "topic": "Retro prep",
  "payload": {"summary": "Prepare sprint retro notes", "entities": ["Sprint 14"], "time_ref": "Friday"},
  "context": {"channel": "chat", "tags": ["work"], "salience": 0.8},
  "policy": {"owner": "user:alice", "acl": [{"agent": "AgentB.Calendar", "perm": ["read", "use"]}]},
  "provenance": {"created_at": "2025-08-30T10:00:00Z", "created_by": "AgentA.Chat"}
}`

func newTestServer(t *testing.T, cfg envelope.Config) *httptest.Server {
	t.Helper()
	stores, err := file.NewFileStores(store.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := envelope.New(stores, crypto.NewHMACSigner(""), cfg)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	NewCoreHandler(svc, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestEndToEndScenario(t *testing.T) {
	srv := newTestServer(t, envelope.Config{})

	status, body := do(t, "POST", srv.URL+"/memories", retroMEV)
	if status != http.StatusOK {
		t.Fatalf("create: %d %s", status, body)
	}
	created := decode[createResponse](t, body)
	if !created.OK || created.ID != "mem_1" || !strings.HasPrefix(created.Sig, "sig:") {
		t.Fatalf("create response %s", body)
	}

	status, body = do(t, "GET", srv.URL+"/memories?agent=AgentB.Calendar", "")
	if status != http.StatusOK {
		t.Fatalf("list: %d %s", status, body)
	}
	list := decode[[]map[string]any](t, body)
	if len(list) != 1 {
		t.Fatalf("list returned %d envelopes", len(list))
	}
	payload := list[0]["payload"].(map[string]any)
	if payload["time_ref"] != "Friday" {
		t.Errorf("time_ref = %v", payload["time_ref"])
	}

	status, body = do(t, "POST", srv.URL+"/memories/mem_1/delete", "")
	if status != http.StatusOK {
		t.Fatalf("delete: %d %s", status, body)
	}
	deleted := decode[deleteResponse](t, body)
	if !deleted.OK || deleted.Receipt.MemID != "mem_1" || deleted.Receipt.Action != "delete" {
		t.Errorf("delete response %s", body)
	}

	status, body = do(t, "GET", srv.URL+"/memories?agent=AgentB.Calendar", "")
	if status != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("list after delete: %d %s", status, body)
	}

	status, body = do(t, "GET", srv.URL+"/deletions/mem_1", "")
	if status != http.StatusOK {
		t.Fatalf("receipt: %d %s", status, body)
	}
	receipt := decode[store.Receipt](t, body)
	if receipt != deleted.Receipt {
		t.Errorf("stored receipt %+v, delete returned %+v", receipt, deleted.Receipt)
	}
	if !bytes.HasPrefix(body, []byte(`{"mem_id":"mem_1","action":"delete","deleted_at":`)) {
		t.Errorf("receipt field order: %s", body)
	}

	status, body = do(t, "GET", srv.URL+"/deletions/mem_1/verify", "")
	if status != http.StatusOK || !decode[envelope.ReceiptCheck](t, body).ProofOK {
		t.Errorf("verify receipt: %d %s", status, body)
	}
}

func TestErrors(t *testing.T) {
	srv := newTestServer(t, envelope.Config{RejectRecreate: true})

	if status, _ := do(t, "POST", srv.URL+"/memories", retroMEV); status != http.StatusOK {
		t.Fatal("seed create failed")
	}
	if status, _ := do(t, "POST", srv.URL+"/memories/mem_1/delete", ""); status != http.StatusOK {
		t.Fatal("seed delete failed")
	}

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"create without id", "POST", "/memories", `{"type":"x"}`, 400, protocol.ErrInvalidRequest},
		{"create with numeric id", "POST", "/memories", `{"id":7}`, 400, protocol.ErrInvalidRequest},
		{"create with bad json", "POST", "/memories", `{`, 400, protocol.ErrInvalidRequest},
		{"create array", "POST", "/memories", `[1]`, 400, protocol.ErrInvalidRequest},
		{"recreate deleted", "POST", "/memories", retroMEV, 409, protocol.ErrConflict},
		{"delete unknown", "POST", "/memories/nope/delete", "", 404, protocol.ErrNotFound},
		{"receipt unknown", "GET", "/deletions/nope", "", 404, protocol.ErrNotFound},
		{"get deleted", "GET", "/memories/mem_1", "", 404, protocol.ErrNotFound},
		{"subscribe without agent", "POST", "/subscribe", `{"callback":"http://x"}`, 400, protocol.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", status, tt.wantStatus, body)
			}
			eb := decode[protocol.ErrorBody](t, body)
			if eb.Code != tt.wantCode || eb.Error == "" {
				t.Errorf("error body %s", body)
			}
		})
	}
}

func TestCreateMissingIDMessage(t *testing.T) {
	srv := newTestServer(t, envelope.Config{})
	_, body := do(t, "POST", srv.URL+"/memories", `{}`)
	if eb := decode[protocol.ErrorBody](t, body); eb.Error != "MEV must include id" {
		t.Errorf("error = %q", eb.Error)
	}
}

func TestGetSingle(t *testing.T) {
	srv := newTestServer(t, envelope.Config{})
	do(t, "POST", srv.URL+"/memories", retroMEV)

	if status, body := do(t, "GET", srv.URL+"/memories/mem_1?agent=AgentB.Calendar", ""); status != 200 {
		t.Errorf("granted: %d %s", status, body)
	}
	if status, _ := do(t, "GET", srv.URL+"/memories/mem_1?agent=Stranger", ""); status != http.StatusForbidden {
		t.Errorf("ungranted status = %d, want 403", status)
	}
	status, body := do(t, "GET", srv.URL+"/memories/mem_1/verify", "")
	check := decode[envelope.EnvelopeCheck](t, body)
	if status != 200 || !check.HashOK || !check.SigOK {
		t.Errorf("verify: %d %s", status, body)
	}
}

func TestSubscribeUpsert(t *testing.T) {
	srv := newTestServer(t, envelope.Config{})

	status, body := do(t, "POST", srv.URL+"/subscribe", `{"agentId":"AgentB.Calendar","callback":"http://localhost:5057/revoke"}`)
	if status != 200 || strings.TrimSpace(string(body)) != `{"ok":true}` {
		t.Fatalf("subscribe: %d %s", status, body)
	}
	do(t, "POST", srv.URL+"/subscribe", `{"agentId":"AgentB.Calendar"}`)

	_, body = do(t, "GET", srv.URL+"/subscribers", "")
	subs := decode[[]store.Subscriber](t, body)
	if len(subs) != 1 || subs[0].Callback != nil {
		t.Errorf("subscribers %s", body)
	}
	if !strings.Contains(string(body), `"callback":null`) {
		t.Errorf("callback not stored as null: %s", body)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, envelope.Config{})
	status, body := do(t, "GET", srv.URL+"/healthz", "")
	if status != 200 || !strings.Contains(string(body), `"backend":"file"`) {
		t.Errorf("healthz: %d %s", status, body)
	}
}

func TestEventsRouteOnlyWhenEnabled(t *testing.T) {
	srv := newTestServer(t, envelope.Config{})
	if status, _ := do(t, "GET", srv.URL+"/events", ""); status == http.StatusOK {
		t.Error("events route served without a hub")
	}
}

func TestCreateChunkedBodyTooLarge(t *testing.T) {
	stores, err := file.NewFileStores(store.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := envelope.New(stores, crypto.NewHMACSigner(""), envelope.Config{})
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	NewCoreHandler(svc, nil).RegisterRoutes(mux)

	for _, path := range []string{"/memories", "/subscribe"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", path, strings.NewReader(`{"id":"mem_1","agentId":"far too long for the limit"}`))
		req.ContentLength = -1
		req.Body = http.MaxBytesReader(rec, req.Body, 16)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("%s: status = %d, want 413 (%s)", path, rec.Code, rec.Body)
			continue
		}
		if eb := decode[protocol.ErrorBody](t, rec.Body.Bytes()); eb.Code != protocol.ErrPayloadTooLarge {
			t.Errorf("%s: error body %+v", path, eb)
		}
	}
}

func TestCreateRejectsTrailingData(t *testing.T) {
	srv := newTestServer(t, envelope.Config{})
	status, body := do(t, "POST", srv.URL+"/memories", `{"id":"a"} trailing`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", status, body)
	}
	if status, _ := do(t, "GET", srv.URL+"/memories/a", ""); status != http.StatusNotFound {
		t.Errorf("envelope with trailing data was stored (status %d)", status)
	}
}
