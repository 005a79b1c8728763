package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/cachestore"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/config"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/edge"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/obs"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/queue"
)

type switchableOrigin struct {
	down     atomic.Bool
	received atomic.Int32
}

func (o *switchableOrigin) Do(r *http.Request) (*http.Response, error) {
	if o.down.Load() {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	}
	if r.Method == http.MethodPost {
		o.received.Add(1)
	}
	rec := httptest.NewRecorder()
	io.WriteString(rec, "ok")
	return rec.Result(), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *switchableOrigin) {
	t.Helper()
	cfg, err := config.Parse([]byte("server:\n  origin: http://origin.test\nconnectivity:\n  probeEvery: 0s\n"))
	if err != nil {
		t.Fatal(err)
	}
	caches := cachestore.NewMemory()
	store, err := queue.NewMemLevelDBStore()
	if err != nil {
		t.Fatal(err)
	}
	origin := &switchableOrigin{}
	metrics := obs.NewMetrics()
	svc, err := edge.NewService(cfg, edge.Deps{
		Caches:  caches,
		Queue:   store,
		Client:  origin,
		Logger:  zerolog.Nop(),
		Metrics: metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewRouter(Config{
		Prefix:  cfg.Server.ControlPrefix,
		Service: svc,
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	}))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
		store.Close()
	})
	return srv, origin
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestMessagesAndSync(t *testing.T) {
	srv, origin := newTestServer(t)

	origin.down.Store(true)
	res := postJSON(t, srv.URL+"/api/time-entries", `{"minutes":30}`)
	if res.StatusCode != http.StatusOK || res.Header.Get("X-Minute-Edge") != "queued" {
		t.Fatalf("write while offline = %d %s", res.StatusCode, res.Header.Get("X-Minute-Edge"))
	}

	res = postJSON(t, srv.URL+"/_edge/messages", `{"type":"GET_OFFLINE_STATUS"}`)
	var st edge.OfflineStatus
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.IsOnline || !st.HasQueuedRequests {
		t.Fatalf("status = %+v", st)
	}

	qres, err := http.Get(srv.URL + "/_edge/queue")
	if err != nil {
		t.Fatal(err)
	}
	defer qres.Body.Close()
	var items []QueueItem
	if err := json.NewDecoder(qres.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].URL != "http://origin.test/api/time-entries" {
		t.Fatalf("queue = %+v", items)
	}

	origin.down.Store(false)
	if res := postJSON(t, srv.URL+"/_edge/sync", ``); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("sync without tag = %d", res.StatusCode)
	}
	res = postJSON(t, srv.URL+"/_edge/sync?tag=offline-sync", ``)
	st = edge.OfflineStatus{}
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.IsOnline || st.HasQueuedRequests || origin.received.Load() != 1 {
		t.Fatalf("after sync = %+v, delivered %d", st, origin.received.Load())
	}

	if res := postJSON(t, srv.URL+"/_edge/messages", `{"type":"NOPE"}`); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown message = %d", res.StatusCode)
	}
	if res := postJSON(t, srv.URL+"/_edge/messages", `{"type":"SKIP_WAITING"}`); res.StatusCode != http.StatusNoContent {
		t.Fatalf("skip waiting = %d", res.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	// one resolved request so the counters have a sample
	if res, err := http.Get(srv.URL + "/"); err == nil {
		res.Body.Close()
	}

	res, err := http.Get(srv.URL + "/_edge/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var h struct {
		State       string `json:"state"`
		Controlling bool   `json:"controlling"`
	}
	if err := json.NewDecoder(res.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.State != "activated" || !h.Controlling {
		t.Fatalf("health = %+v", h)
	}

	mres, err := http.Get(srv.URL + "/_edge/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer mres.Body.Close()
	body, _ := io.ReadAll(mres.Body)
	if !bytes.Contains(body, []byte("edge_resolutions_total")) {
		t.Fatalf("metrics missing resolutions:\n%s", body)
	}
}

func TestWebsocketMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/_edge/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	roundTrip := func(msg string) map[string]any {
		t.Helper()
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatal(err)
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		return out
	}

	out := roundTrip(`{"type":"GET_OFFLINE_STATUS"}`)
	data, ok := out["data"].(map[string]any)
	if !ok || data["isOnline"] != true || data["hasQueuedRequests"] != false {
		t.Fatalf("status reply = %v", out)
	}
	out = roundTrip(`{"type":"BOGUS"}`)
	if out["type"] != "BOGUS" || !strings.Contains(out["error"].(string), "unknown message type") {
		t.Fatalf("unknown reply = %v", out)
	}
	out = roundTrip(`not json`)
	if !strings.HasPrefix(out["error"].(string), "invalid message") {
		t.Fatalf("invalid reply = %v", out)
	}
}
