package edge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/config"
)

func TestDispatcher(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.On(EventSync, func(ctx context.Context, ev Event) error {
		order = append(order, "first:"+ev.Tag)
		return nil
	})
	d.On(EventSync, func(ctx context.Context, ev Event) error {
		order = append(order, "second")
		return errors.New("boom")
	})
	d.On(EventSync, func(ctx context.Context, ev Event) error {
		panic("handler bug")
	})

	err := d.Dispatch(context.Background(), Event{Type: EventSync, Tag: "offline-sync"})
	if err == nil || !strings.Contains(err.Error(), "boom") || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("err = %v", err)
	}
	if strings.Join(order, ",") != "first:offline-sync,second" {
		t.Fatalf("order = %v", order)
	}
	if err := d.Dispatch(context.Background(), Event{Type: EventInstall}); err != nil {
		t.Fatalf("no handlers: %v", err)
	}
}

func TestRouterPriority(t *testing.T) {
	api, _ := config.ParseMatch("PathPrefix(/api/)")
	ref, _ := config.ParseMatch("Contains(/users)|Contains(/teams)")
	rt := NewRouter([]string{"/", "/offline.html"}, api, ref)

	cases := []struct {
		method, path string
		want         Strategy
	}{
		{http.MethodGet, "/", StrategyCacheFirst},
		{http.MethodGet, "/offline.html", StrategyCacheFirst},
		{http.MethodPost, "/", StrategyNetworkFirst},
		{http.MethodGet, "/api/users", StrategyNetworkFirstQueue},
		{http.MethodPost, "/api/absence/requests", StrategyNetworkFirstQueue},
		{http.MethodGet, "/rest/v1/teams", StrategyStaleWhileRevalidate},
		{http.MethodPatch, "/rest/v1/users", StrategyNetworkFirst},
		{http.MethodGet, "/assets/app.js", StrategyNetworkFirst},
	}
	for _, c := range cases {
		if got := rt.Classify(c.method, c.path); got != c.want {
			t.Errorf("%s %s = %s, want %s", c.method, c.path, got, c.want)
		}
	}
}

func TestLifecycleWaitsForSkipWaiting(t *testing.T) {
	d := NewDispatcher()
	l := NewLifecycle(d, zerolog.Nop())
	var activated int
	d.On(EventActivate, func(context.Context, Event) error {
		activated++
		l.Claim()
		return nil
	})
	ctx := context.Background()

	if err := l.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if l.State() != StateInstalled || l.Controlling() {
		t.Fatalf("state = %s controlling = %v", l.State(), l.Controlling())
	}
	if err := l.Install(ctx); !errors.Is(err, ErrAlreadyInstalled) {
		t.Fatalf("second install = %v", err)
	}
	if err := l.SkipWaiting(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.SkipWaiting(ctx); err != nil {
		t.Fatal(err)
	}
	if l.State() != StateActivated || !l.Controlling() || activated != 1 {
		t.Fatalf("state = %s controlling = %v activated = %d", l.State(), l.Controlling(), activated)
	}
}

func TestLifecycleSkipWaitingDuringInstall(t *testing.T) {
	d := NewDispatcher()
	l := NewLifecycle(d, zerolog.Nop())
	d.On(EventInstall, func(ctx context.Context, _ Event) error {
		if l.State() != StateInstalling {
			t.Errorf("state during install = %s", l.State())
		}
		return l.SkipWaiting(ctx)
	})
	if err := l.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.State() != StateActivated {
		t.Fatalf("state = %s", l.State())
	}
}

func TestLifecycleInstallFailureResets(t *testing.T) {
	d := NewDispatcher()
	l := NewLifecycle(d, zerolog.Nop())
	d.On(EventInstall, func(context.Context, Event) error { return errors.New("cache unavailable") })
	if err := l.Install(context.Background()); err == nil {
		t.Fatal("expected install error")
	}
	if l.State() != StateNew {
		t.Fatalf("state = %s", l.State())
	}
}

func TestEnsureExposedHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Access-Control-Expose-Headers", "ETag")
	setEdgeHeaders(h, "hit")
	setEdgeHeaders(h, "hit")
	if got := h.Get("Access-Control-Expose-Headers"); got != "ETag, X-Minute-Edge" {
		t.Fatalf("expose = %q", got)
	}
	if h.Get(headerEdge) != "hit" {
		t.Fatalf("edge header = %q", h.Get(headerEdge))
	}
}
