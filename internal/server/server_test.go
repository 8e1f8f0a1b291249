package server_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Elliptic-DAO/elp-protocol/internal/event"
	"github.com/Elliptic-DAO/elp-protocol/internal/icrc"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
	"github.com/Elliptic-DAO/elp-protocol/internal/observability"
	"github.com/Elliptic-DAO/elp-protocol/internal/server"
	"github.com/Elliptic-DAO/elp-protocol/internal/testutil"
)

func newTestServer(t *testing.T) (*testutil.Env, *httptest.Server) {
	t.Helper()
	env := testutil.NewEnv(t, 1_000_000_000)
	health := observability.NewHealthChecker()
	health.SetReady(true)
	srv := httptest.NewServer(server.New(env.Engine, health, nil, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return env, srv
}

func post(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := newTestServer(t)

	if resp := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: got %d", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz: got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp := get(t, srv.URL+"/v1/protocol/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("responses must carry a request id")
	}

	var status ledger.ProtocolStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.IcpPrice != 1_000_000_000 {
		t.Errorf("price: got %d, want 1_000_000_000", status.IcpPrice)
	}
}

func TestSelfCheckEndpoint(t *testing.T) {
	env, srv := newTestServer(t)
	env.FundDeposit("lp", 1_000_010_000)
	if _, err := env.Engine.AddLiquidity(context.Background(), "lp", 1_000_000_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}

	resp := get(t, srv.URL+"/v1/protocol/self-check")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "consistent" {
		t.Errorf("status: got %q, want %q", body["status"], "consistent")
	}
}

func TestDepositAccountEndpoint(t *testing.T) {
	env, srv := newTestServer(t)

	resp := get(t, srv.URL+"/v1/users/alice/deposit-account")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["owner"] != string(env.Self) {
		t.Errorf("owner: got %q, want %q", body["owner"], env.Self)
	}
	sub := icrc.ComputeSubaccount("alice", 0)
	if body["subaccount"] != hex.EncodeToString(sub[:]) {
		t.Errorf("subaccount: got %q", body["subaccount"])
	}
}

func TestSwapEndpoint(t *testing.T) {
	env, srv := newTestServer(t)
	env.FundDeposit("alice", 1_000_000_000)

	resp := post(t, srv.URL+"/v1/swaps/icp-to-eusd", `{"caller":"alice","amount":999990000}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
	var body struct {
		BlockIndex uint64 `json:"block_index"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.BlockIndex == 0 {
		t.Error("block index must be nonzero")
	}

	env.Engine.ProcessPendingSwaps(context.Background())
	if got := env.Eusd.Balance(icrc.Account{Owner: "alice"}); got != 9_974_900_250 {
		t.Errorf("minted eUSD: got %d, want 9_974_900_250", got)
	}
}

func TestEventsEndpoint(t *testing.T) {
	env, srv := newTestServer(t)
	env.FundDeposit("alice", 1_000_000_000)
	if _, err := env.Engine.ConvertIcpToEusd(context.Background(), "alice", 999_990_000); err != nil {
		t.Fatalf("convert: %v", err)
	}

	// The log holds Init then the swap; skip the Init.
	resp := get(t, srv.URL+"/v1/protocol/events?skip=1&limit=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
	var body struct {
		Events []event.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Type != event.TypeSwap {
		t.Fatalf("page: %+v", body.Events)
	}
	if body.Events[0].Swap.FromAmount != 999_990_000 {
		t.Errorf("swap amount: got %d, want 999_990_000", body.Events[0].Swap.FromAmount)
	}

	resp = get(t, srv.URL+"/v1/protocol/events?skip=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("skip past end: got %d", resp.StatusCode)
	}
	body.Events = nil
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 0 {
		t.Errorf("skip past end: %+v", body.Events)
	}

	if resp := get(t, srv.URL+"/v1/protocol/events?skip=x"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad skip: got %d", resp.StatusCode)
	}
}

func TestUserDataEndpoint(t *testing.T) {
	env, srv := newTestServer(t)
	env.FundDeposit("lp", 1_000_010_000)
	if _, err := env.Engine.AddLiquidity(context.Background(), "lp", 1_000_000_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}

	resp := get(t, srv.URL+"/v1/users/lp")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
	var data ledger.UserData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.LiquidityProvided != 997_500_000 {
		t.Errorf("provided: got %d, want 997_500_000", data.LiquidityProvided)
	}
}

func TestErrorMapping(t *testing.T) {
	_, srv := newTestServer(t)

	for _, tc := range []struct {
		name string
		path string
		body string
		want int
	}{
		{"amount too small", "/v1/swaps/icp-to-eusd", `{"caller":"alice","amount":1}`, http.StatusBadRequest},
		{"unknown position", "/v1/leverage/close", `{"caller":"alice","deposit_block_index":42}`, http.StatusNotFound},
		{"nothing to claim", "/v1/liquidity/claim", `{"caller":"alice"}`, http.StatusBadRequest},
		{"malformed body", "/v1/liquidity/add", `{"caller":`, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, srv.URL+tc.path, tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("got %d, want %d", resp.StatusCode, tc.want)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] == "" {
				t.Error("error responses must carry a message")
			}
		})
	}
}
