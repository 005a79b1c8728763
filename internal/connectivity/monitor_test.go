package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestObserveTransitions(t *testing.T) {
	var recovered, changes int
	m := NewMonitor(Config{
		OnChange:  func(bool) { changes++ },
		OnRecover: func() { recovered++ },
		Logger:    zerolog.Nop(),
	})
	if !m.Online() {
		t.Fatal("monitor should start online")
	}

	m.Observe(nil)
	m.Observe(errors.New("dial tcp: connection refused"))
	m.Observe(errors.New("still down"))
	if m.Online() {
		t.Fatal("expected offline")
	}
	m.Observe(context.Canceled)
	m.Observe(fmt.Errorf("client went away: %w", context.Canceled))
	if m.Online() {
		t.Fatal("cancellation must not flip state")
	}
	m.Observe(nil)
	m.Observe(nil)

	if !m.Online() || recovered != 1 || changes != 2 {
		t.Fatalf("online=%v recovered=%d changes=%d", m.Online(), recovered, changes)
	}
}

func TestRunProbe(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	recoveredCh := make(chan struct{}, 1)
	m := NewMonitor(Config{
		Probe: HTTPProbe(srv.Client(), srv.URL),
		OnRecover: func() {
			select {
			case recoveredCh <- struct{}{}:
			default:
			}
		},
		Logger: zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for m.Online() {
		if time.Now().After(deadline) {
			t.Fatal("probe never reported offline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// any HTTP answer, even a 503, means the origin is reachable
	healthy.Store(true)
	select {
	case <-recoveredCh:
	case <-time.After(2 * time.Second):
		t.Fatal("probe never reported recovery")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, "dial"},
		{&net.DNSError{Err: "no such host", Name: "origin.test"}, "dns"},
		{timeoutErr{}, "timeout"},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), "timeout"},
		{&net.OpError{Op: "read", Err: syscall.ECONNRESET}, "reset"},
		{io.ErrUnexpectedEOF, "eof"},
		{errors.New("tls: bad certificate"), "other"},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
