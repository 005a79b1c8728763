package edge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type State int32

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return "unknown"
}

var ErrAlreadyInstalled = errors.New("edge already installed")

// Lifecycle drives install and activation through the dispatcher. The edge
// resolves requests only once it has claimed control; until then requests
// pass straight through to the origin.
type Lifecycle struct {
	dispatcher *Dispatcher
	log        zerolog.Logger

	mu          sync.Mutex
	state       State
	skipWaiting bool

	claimed atomic.Bool
}

func NewLifecycle(d *Dispatcher, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{dispatcher: d, log: log.With().Str("component", "lifecycle").Logger()}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Install dispatches the install event. If skip-waiting was requested
// before or during installation, activation follows immediately;
// otherwise the edge stays installed until SkipWaiting.
func (l *Lifecycle) Install(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateNew {
		l.mu.Unlock()
		return ErrAlreadyInstalled
	}
	l.state = StateInstalling
	l.mu.Unlock()

	if err := l.dispatcher.Dispatch(ctx, Event{Type: EventInstall}); err != nil {
		l.mu.Lock()
		l.state = StateNew
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.state = StateInstalled
	skip := l.skipWaiting
	l.mu.Unlock()
	l.log.Info().Bool("skip_waiting", skip).Msg("installed")
	if skip {
		return l.activate(ctx)
	}
	return nil
}

// SkipWaiting asks for activation without waiting. Called while installed it
// activates at once; called earlier it takes effect when install finishes.
func (l *Lifecycle) SkipWaiting(ctx context.Context) error {
	l.mu.Lock()
	l.skipWaiting = true
	st := l.state
	l.mu.Unlock()
	if st == StateInstalled {
		return l.activate(ctx)
	}
	return nil
}

func (l *Lifecycle) activate(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateInstalled {
		l.mu.Unlock()
		return nil
	}
	l.state = StateActivating
	l.mu.Unlock()

	err := l.dispatcher.Dispatch(ctx, Event{Type: EventActivate})

	l.mu.Lock()
	l.state = StateActivated
	l.mu.Unlock()
	l.log.Info().Bool("controlling", l.Controlling()).Msg("activated")
	return err
}

// Claim makes the edge take over request handling.
func (l *Lifecycle) Claim() { l.claimed.Store(true) }

func (l *Lifecycle) Controlling() bool { return l.claimed.Load() }
