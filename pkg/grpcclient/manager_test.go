package grpcclient_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cirocosta/dataplane-exporter/pkg/grpcclient"
)

type outcome int

const (
	succeed outcome = iota
	failTransport
	failTimeout
)

// scriptedDialer fails according to `script` and succeeds once it runs out
// of entries, recording when each attempt happened.
//
type scriptedDialer struct {
	clock  clock.Clock
	script []outcome

	mu       sync.Mutex
	attempts []time.Time
}

func (d *scriptedDialer) Dial(
	ctx context.Context, cctx grpcclient.ConnectionContext,
) (grpcclient.Client, error) {
	d.mu.Lock()
	idx := len(d.attempts)
	d.attempts = append(d.attempts, d.clock.Now())
	d.mu.Unlock()

	next := succeed
	if idx < len(d.script) {
		next = d.script[idx]
	}

	switch next {
	case failTransport:
		return nil, errors.New("connection refused")
	case failTimeout:
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if cctx.APIVersion() == grpcclient.V0 {
		return &grpcclient.V0Client{}, nil
	}

	return &grpcclient.V1Client{}, nil
}

func (d *scriptedDialer) Attempts() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]time.Time(nil), d.attempts...)
}

func testLogger(t *testing.T) logr.Logger {
	return zapr.NewLogger(zaptest.NewLogger(t))
}

func testContext(t *testing.T, version grpcclient.APIVersion) grpcclient.ConnectionContext {
	cctx, err := grpcclient.NewConnectionContext(
		"https://10.1.0.3:10124", grpcclient.DefaultTimeouts(), version,
	)
	require.NoError(t, err)

	return cctx
}

// connectWithMock runs Connect in the background, moving the mocked clock
// forward until it returns.
//
func connectWithMock(
	t *testing.T, ctx context.Context, mock *clock.Mock,
	cctx grpcclient.ConnectionContext, opts ...grpcclient.Option,
) (*grpcclient.Manager, error) {
	var (
		m    *grpcclient.Manager
		err  error
		done = make(chan struct{})
	)

	opts = append([]grpcclient.Option{
		grpcclient.WithClock(mock),
		grpcclient.WithLogger(testLogger(t)),
	}, opts...)

	go func() {
		defer close(done)
		m, err = grpcclient.Connect(ctx, cctx, opts...)
	}()

	for {
		select {
		case <-done:
			return m, err
		default:
			mock.Add(500 * time.Millisecond)
		}
	}
}

func TestConnect_ExactlyOneClient(t *testing.T) {
	for _, version := range []grpcclient.APIVersion{grpcclient.V0, grpcclient.V1} {
		version := version

		t.Run(version.String(), func(t *testing.T) {
			mock := clock.NewMock()
			dialer := &scriptedDialer{clock: mock}

			m, err := connectWithMock(t, context.Background(), mock,
				testContext(t, version), grpcclient.WithDialer(dialer))
			require.NoError(t, err)

			assert.Equal(t, version, m.APIVersion())
			assert.Equal(t, grpcclient.StateConnected, m.State())

			v0, errV0 := m.ClientV0()
			v1, errV1 := m.ClientV1()

			if version == grpcclient.V0 {
				require.NoError(t, errV0)
				assert.NotNil(t, v0)
				assert.Nil(t, v1)
				assert.True(t, errors.Is(errV1, grpcclient.ErrClientUnavailable))
				assert.Contains(t, errV1.Error(), "could not get v1 client")
			} else {
				require.NoError(t, errV1)
				assert.NotNil(t, v1)
				assert.Nil(t, v0)
				assert.True(t, errors.Is(errV0, grpcclient.ErrClientUnavailable))
				assert.Contains(t, errV0.Error(), "could not get v0 client")
			}

			require.NoError(t, m.Close())
		})
	}
}

func TestManager_NotConnected(t *testing.T) {
	m, err := grpcclient.New(testContext(t, grpcclient.V1),
		grpcclient.WithLogger(testLogger(t)))
	require.NoError(t, err)

	assert.Equal(t, grpcclient.StateDisconnected, m.State())

	_, err = m.ClientV1()
	assert.True(t, errors.Is(err, grpcclient.ErrClientUnavailable))

	_, err = m.ClientV0()
	assert.True(t, errors.Is(err, grpcclient.ErrClientUnavailable))

	assert.NoError(t, m.Close())
}

func TestConnect_RetriesTransportErrors(t *testing.T) {
	mock := clock.NewMock()
	dialer := &scriptedDialer{
		clock:  mock,
		script: []outcome{failTransport, failTransport, failTransport},
	}

	start := mock.Now()

	m, err := connectWithMock(t, context.Background(), mock,
		testContext(t, grpcclient.V0), grpcclient.WithDialer(dialer))
	require.NoError(t, err)

	_, err = m.ClientV0()
	require.NoError(t, err)

	attempts := dialer.Attempts()
	require.Len(t, attempts, 4)

	for idx := 1; idx < len(attempts); idx++ {
		gap := attempts[idx].Sub(attempts[idx-1])
		assert.GreaterOrEqual(t, gap, grpcclient.DefaultRetryInterval,
			"attempt %d came too early", idx)
	}

	assert.GreaterOrEqual(t, mock.Now().Sub(start), 3*grpcclient.DefaultRetryInterval)
}

func TestConnect_RetriesTimeouts(t *testing.T) {
	mock := clock.NewMock()
	dialer := &scriptedDialer{
		clock:  mock,
		script: []outcome{failTimeout, failTimeout},
	}

	start := mock.Now()

	m, err := connectWithMock(t, context.Background(), mock,
		testContext(t, grpcclient.V1), grpcclient.WithDialer(dialer))
	require.NoError(t, err)

	v1, err := m.ClientV1()
	require.NoError(t, err)
	assert.NotNil(t, v1)

	require.Len(t, dialer.Attempts(), 3)
	assert.GreaterOrEqual(t, mock.Now().Sub(start), 20*time.Second)
}

func TestConnect_Cancelled(t *testing.T) {
	mock := clock.NewMock()
	dialer := grpcclient.DialerFunc(func(
		context.Context, grpcclient.ConnectionContext,
	) (grpcclient.Client, error) {
		return nil, errors.New("connection refused")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := connectWithMock(t, ctx, mock,
		testContext(t, grpcclient.V1), grpcclient.WithDialer(dialer))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConnect_WrongVersionFromDialerIsRetried(t *testing.T) {
	mock := clock.NewMock()

	var calls int
	dialer := grpcclient.DialerFunc(func(
		context.Context, grpcclient.ConnectionContext,
	) (grpcclient.Client, error) {
		calls++
		if calls == 1 {
			return &grpcclient.V0Client{}, nil
		}

		return &grpcclient.V1Client{}, nil
	})

	m, err := connectWithMock(t, context.Background(), mock,
		testContext(t, grpcclient.V1), grpcclient.WithDialer(dialer))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = m.ClientV0()
	assert.Error(t, err)
}

func TestConnect_GivesUpWhenBackOffStops(t *testing.T) {
	mock := clock.NewMock()
	dialer := &scriptedDialer{clock: mock, script: []outcome{failTransport}}

	_, err := connectWithMock(t, context.Background(), mock,
		testContext(t, grpcclient.V1),
		grpcclient.WithDialer(dialer),
		grpcclient.WithBackOff(&backoff.StopBackOff{}),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, grpcclient.ErrConnectTransport))
	assert.Len(t, dialer.Attempts(), 1)
}

func TestConnect_GRPCServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() {
		_ = srv.Serve(lis)
	}()
	defer srv.Stop()

	cctx, err := grpcclient.NewConnectionContext(
		"https://"+lis.Addr().String(),
		grpcclient.NewTimeouts(5*time.Second, 5*time.Second),
		grpcclient.V1,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m, err := grpcclient.Connect(ctx, cctx, grpcclient.WithLogger(testLogger(t)))
	require.NoError(t, err)
	defer m.Close()

	client, err := m.ClientV1()
	require.NoError(t, err)

	resp, err := healthpb.NewHealthClient(client.Pool).Check(
		ctx, &healthpb.HealthCheckRequest{},
	)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestConnect_LogsFailureToCloseWrongVersionClient(t *testing.T) {
	conn, err := grpc.Dial("127.0.0.1:1",
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	mock := clock.NewMock()
	core, logs := observer.New(zapcore.ErrorLevel)

	var calls int
	dialer := grpcclient.DialerFunc(func(
		context.Context, grpcclient.ConnectionContext,
	) (grpcclient.Client, error) {
		calls++
		if calls == 1 {
			return &grpcclient.V0Client{Conn: conn}, nil
		}

		return &grpcclient.V1Client{}, nil
	})

	_, err = connectWithMock(t, context.Background(), mock,
		testContext(t, grpcclient.V1),
		grpcclient.WithDialer(dialer),
		grpcclient.WithLogger(zapr.NewLogger(zap.New(core))),
	)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage(
		"failed to close client of the wrong api version").Len())
}
