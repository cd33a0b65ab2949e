//go:build integration

package integration_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nat64d/nat64d/internal/harness"
	"github.com/nat64d/nat64d/internal/nat64"
	"github.com/nat64d/nat64d/internal/server"
)

// newControlTestEnv starts an in-process control API server backed by a
// real *nat64.Core, the in-process equivalent of running nat64ctl against
// a live daemon.
func newControlTestEnv(t *testing.T) (*httptest.Server, *nat64.Core) {
	t.Helper()

	core := nat64.NewCore()
	srv := httptest.NewServer(server.New(core, nil).Router())
	t.Cleanup(srv.Close)

	return srv, core
}

// TestControlAPIPoolLifecycle exercises pool registration and listing
// through the live HTTP control API, the in-process equivalent of running
// `nat64ctl pool add` / `nat64ctl pool list` / `nat64ctl pool delete`.
func TestControlAPIPoolLifecycle(t *testing.T) {
	srv, _ := newControlTestEnv(t)
	client := srv.Client()

	addBody, _ := json.Marshal(map[string]string{"addr": "203.0.113.5"})
	resp, err := client.Post(srv.URL+"/v1/pool", "application/json", jsonReader(addBody))
	if err != nil {
		t.Fatalf("POST /v1/pool: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /v1/pool status = %d, want 201", resp.StatusCode)
	}

	listResp, err := client.Get(srv.URL + "/v1/pool")
	if err != nil {
		t.Fatalf("GET /v1/pool: %v", err)
	}
	defer listResp.Body.Close()

	var entries []nat64.PoolAddressInfo
	if err := json.NewDecoder(listResp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode pool list: %v", err)
	}
	if len(entries) != 1 || entries[0].Addr.String() != "203.0.113.5" {
		t.Fatalf("pool list = %+v, want one 203.0.113.5 entry", entries)
	}
}

// TestControlAPIObservesLoopbackTraffic verifies that bindings and sessions
// created by synthetic packets driven through the loopback harness are
// visible through the control API's read-only BIB/session endpoints --
// the point of contact between the packet path and the operator surface.
func TestControlAPIObservesLoopbackTraffic(t *testing.T) {
	srv, core := newControlTestEnv(t)
	client := srv.Client()

	if err := core.PoolAdd(mustParseAddr(t, "203.0.113.5")); err != nil {
		t.Fatalf("PoolAdd: %v", err)
	}

	lb := harness.New(core)
	if _, err := lb.SendV6(nat64.ProtoUDP, "2001:db8::1", 40001, "64:ff9b::c000:0201", 53, nat64.TCPFlags{}); err != nil {
		t.Fatalf("SendV6: %v", err)
	}

	bibResp, err := client.Get(srv.URL + "/v1/bib/udp")
	if err != nil {
		t.Fatalf("GET /v1/bib/udp: %v", err)
	}
	defer bibResp.Body.Close()

	var bibEntries []nat64.BIBEntryInfo
	if err := json.NewDecoder(bibResp.Body).Decode(&bibEntries); err != nil {
		t.Fatalf("decode bib list: %v", err)
	}
	if len(bibEntries) != 1 || bibEntries[0].Static {
		t.Fatalf("bib list = %+v, want one dynamic entry", bibEntries)
	}

	sessResp, err := client.Get(srv.URL + "/v1/sessions/udp")
	if err != nil {
		t.Fatalf("GET /v1/sessions/udp: %v", err)
	}
	defer sessResp.Body.Close()

	var sessions []nat64.SessionInfo
	if err := json.NewDecoder(sessResp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode session list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("session list = %+v, want one session", sessions)
	}
}

// TestControlAPIHealthz verifies the liveness probe used by orchestrators.
func TestControlAPIHealthz(t *testing.T) {
	srv, _ := newControlTestEnv(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200", resp.StatusCode)
	}
}
