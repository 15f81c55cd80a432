package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// DefaultRetryInterval is the fixed pause between two connection attempts.
//
const DefaultRetryInterval = 10 * time.Second

// States a Manager goes through while establishing its connection.
//
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

const (
	eventDial    = "dial"
	eventFail    = "fail"
	eventConnect = "connect"
)

var (
	// ErrConnectTimeout is the cause of an attempt that did not complete
	// within the connect timeout.
	//
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrConnectTransport is the cause of an attempt that completed but
	// failed at the transport level.
	//
	ErrConnectTransport = errors.New("connect transport error")
)

// Manager holds the single connection to the engine, speaking the API
// version it was built for.
//
type Manager struct {
	cctx ConnectionContext

	// dialer performs each individual connection attempt.
	//
	// default: a GRPCDialer with insecure credentials.
	//
	dialer Dialer

	// clock drives the connect timeout and the pause between attempts.
	//
	// default: wall clock.
	//
	clock clock.Clock

	// backoff yields the pause between attempts. backoff.Stop makes
	// Connect give up.
	//
	// default: constant, DefaultRetryInterval.
	//
	backoff backoff.BackOff

	state *fsm.FSM
	log   logr.Logger

	mu     sync.RWMutex
	client Client
}

// Option is a functional argument that overrides Manager defaults.
//
type Option func(m *Manager)

// WithDialer overrides the default grpc dialer.
//
func WithDialer(v Dialer) Option {
	return func(m *Manager) {
		m.dialer = v
	}
}

// WithClock overrides the wall clock.
//
func WithClock(v clock.Clock) Option {
	return func(m *Manager) {
		m.clock = v
	}
}

// WithBackOff overrides the constant retry interval.
//
func WithBackOff(v backoff.BackOff) Option {
	return func(m *Manager) {
		m.backoff = v
	}
}

// WithLogger overrides the default development logger.
//
func WithLogger(v logr.Logger) Option {
	return func(m *Manager) {
		m.log = v
	}
}

// New instantiates a disconnected Manager. Use Connect to establish the
// connection.
//
func New(cctx ConnectionContext, opts ...Option) (*Manager, error) {
	m := &Manager{
		cctx:    cctx,
		dialer:  NewGRPCDialer(),
		clock:   clock.New(),
		backoff: backoff.NewConstantBackOff(DefaultRetryInterval),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.log == nil {
		defaultLogger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("zap new development: %w", err)
		}

		m.log = zapr.NewLogger(defaultLogger.Named("grpcclient"))
	}

	m.log = m.log.WithValues(
		"endpoint", cctx.Endpoint(),
		"api-version", cctx.APIVersion().String(),
	)

	m.state = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventFail, Src: []string{StateConnecting}, Dst: StateDisconnected},
			{Name: eventConnect, Src: []string{StateConnecting}, Dst: StateConnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.log.V(1).Info("state transition",
					"from", e.Src, "to", e.Dst)
			},
		},
	)

	return m, nil
}

// Connect builds a Manager and blocks until it is connected to the engine.
//
// Failed attempts are logged and retried forever; the only way for Connect
// to return an error is for `ctx` to be done (or for a custom backoff to
// give up).
//
func Connect(ctx context.Context, cctx ConnectionContext, opts ...Option) (*Manager, error) {
	m, err := New(cctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	if err := m.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return m, nil
}

// Connect runs the retry loop until an attempt succeeds.
//
func (m *Manager) Connect(ctx context.Context) error {
	if m.State() == StateConnected {
		return nil
	}

	m.backoff.Reset()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ctx err: %w", err)
		}

		if err := m.transition(eventDial); err != nil {
			return err
		}

		client, err := m.attempt(ctx)
		if err == nil {
			m.mu.Lock()
			m.client = client
			m.mu.Unlock()

			if err := m.transition(eventConnect); err != nil {
				return err
			}

			m.log.Info("grpc connected successfully")
			return nil
		}

		if err := m.transition(eventFail); err != nil {
			return err
		}

		next := m.backoff.NextBackOff()
		if next == backoff.Stop {
			return fmt.Errorf("giving up: %w", err)
		}

		if errors.Is(err, ErrConnectTimeout) {
			m.log.Error(err, "grpc connection timeout, retrying",
				"after", next.String())
		} else {
			m.log.Error(err, "grpc client connection error, retrying",
				"after", next.String())
		}

		timer := m.clock.Timer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ctx err: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (m *Manager) attempt(ctx context.Context) (Client, error) {
	timeout := m.cctx.Timeouts().Connect()

	attemptCtx, cancel := m.clock.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := m.dialer.Dial(attemptCtx, m.cctx)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v",
				ErrConnectTimeout, timeout, err)
		}

		return nil, fmt.Errorf("%w: %v", ErrConnectTransport, err)
	}

	if client == nil || client.APIVersion() != m.cctx.APIVersion() {
		if client != nil {
			if err := client.Close(); err != nil {
				m.log.Error(err, "failed to close client of the wrong api version",
					"got", client.APIVersion().String())
			}
		}

		return nil, fmt.Errorf("%w: dialer returned a client for the wrong api version",
			ErrConnectTransport)
	}

	return client, nil
}

// transition is not bound to the Connect context so that the state stays
// consistent with m.client when ctx is cancelled.
//
func (m *Manager) transition(event string) error {
	if err := m.state.Event(context.Background(), event); err != nil {
		return fmt.Errorf("state event '%s': %w", event, err)
	}

	return nil
}

// State returns the current connection state.
//
func (m *Manager) State() string {
	return m.state.Current()
}

// APIVersion returns the API version this manager speaks.
//
func (m *Manager) APIVersion() APIVersion {
	return m.cctx.APIVersion()
}

// ConnectionContext returns what this manager connects to.
//
func (m *Manager) ConnectionContext() ConnectionContext {
	return m.cctx
}

// ClientV0 returns the v0 client, failing if the manager speaks v1 or is not
// connected.
//
// The returned client is shared with every other caller.
//
func (m *Manager) ClientV0() (*V0Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.client.(*V0Client)
	if !ok {
		return nil, errUnavailable(V0)
	}

	return client, nil
}

// ClientV1 returns the v1 client, failing if the manager speaks v0 or is not
// connected.
//
func (m *Manager) ClientV1() (*V1Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.client.(*V1Client)
	if !ok {
		return nil, errUnavailable(V1)
	}

	return client, nil
}

// Close releases the underlying connection.
//
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil {
		return nil
	}

	if err := m.client.Close(); err != nil {
		return fmt.Errorf("close %s client: %w", m.cctx.APIVersion(), err)
	}

	return nil
}
