package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nergy-se/airahome/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDevice = "5b1b2c9e-0d7f-4d43-9c1a-3f2c0f0b7a11"

type fakeTransport struct {
	state       map[string]interface{}
	systemCheck map[string]interface{}
	fetchErr    error
	rssi        *int
	rssiErr     error

	// connectResults is consumed one per Connect call, connectErr is used when empty.
	connectResults []error
	connectErr     error
	connectBlock   chan struct{}
	disconnectHang chan struct{}

	fetchCalls      int
	connectCalls    int
	disconnectCalls int
	rssiCalls       int
	address         string
	sync.Mutex
}

func (f *fakeTransport) FetchState(ctx context.Context) (map[string]interface{}, error) {
	f.Lock()
	defer f.Unlock()
	f.fetchCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.state, nil
}

func (f *fakeTransport) FetchSystemCheck(ctx context.Context) (map[string]interface{}, error) {
	f.Lock()
	defer f.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.systemCheck, nil
}

func (f *fakeTransport) Connect(ctx context.Context, address string, timeout time.Duration) error {
	f.Lock()
	f.connectCalls++
	f.address = address
	block := f.connectBlock
	f.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.Lock()
	defer f.Unlock()
	err := f.connectErr
	if len(f.connectResults) > 0 {
		err = f.connectResults[0]
		f.connectResults = f.connectResults[1:]
	}
	if err == nil {
		// link restored
		f.fetchErr = nil
	}
	return err
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.Lock()
	f.disconnectCalls++
	hang := f.disconnectHang
	f.Unlock()
	if hang != nil {
		<-hang
	}
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.Lock()
	defer f.Unlock()
	return f.fetchErr == nil
}

func (f *fakeTransport) SignalStrength(ctx context.Context) (*int, error) {
	f.Lock()
	defer f.Unlock()
	f.rssiCalls++
	return f.rssi, f.rssiErr
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.Lock()
	fn(f)
	f.Unlock()
}

func (f *fakeTransport) counts() (fetch, connect, disconnect int) {
	f.Lock()
	defer f.Unlock()
	return f.fetchCalls, f.connectCalls, f.disconnectCalls
}

type fakeClock struct {
	now time.Time
	sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

// Set moves the clock to an offset from the test epoch.
func (c *fakeClock) Set(offset time.Duration) {
	c.Lock()
	c.now = epoch.Add(offset)
	c.Unlock()
}

var epoch = time.Date(2025, 1, 27, 20, 0, 0, 0, time.UTC)

func newTestCoordinator(ft *fakeTransport, opts Options) (*Coordinator, *fakeClock) {
	clock := &fakeClock{now: epoch}
	r := transport.NewStaticResolver(map[string]string{testDevice: "AA:BB:CC:DD:EE:FF"})
	c := New(testDevice, ft, r, opts)
	c.now = clock.Now
	c.sleep = func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	}
	return c, clock
}

func waitReconnect(c *Coordinator) {
	c.mu.Lock()
	done := c.reconnectDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func pointer[K any](v K) *K {
	return &v
}

func goodTransport() *fakeTransport {
	return &fakeTransport{
		state: map[string]interface{}{
			"target_hot_water_temperature":  50.0,
			"current_hot_water_temperature": 47.2,
		},
		systemCheck: map[string]interface{}{
			"energy_calculation": map[string]interface{}{"current_electrical_power_w": 850.0},
		},
		rssi:       pointer(-64),
		connectErr: io.ErrUnexpectedEOF,
	}
}

func TestPollConnected(t *testing.T) {
	ft := goodTransport()
	c, _ := newTestCoordinator(ft, Options{})

	snap, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Connected)
	assert.Equal(t, ft.state, snap.State)
	assert.Equal(t, ft.systemCheck, snap.SystemCheck)
	assert.Equal(t, -64, *snap.SignalStrength)
	assert.Equal(t, 47.2, *snap.Values.HotWaterTemperature)
	assert.Equal(t, 850.0, *snap.Values.ElectricalPower)

	cs := c.State()
	assert.Equal(t, Connected, cs.Phase)
	assert.Equal(t, 0, cs.ReconnectAttempts)
	assert.Equal(t, snap, cs.LastSuccessful)
	assert.Equal(t, epoch, cs.LastSuccessfulAt)
}

func TestPollTwiceIsIdempotent(t *testing.T) {
	ft := goodTransport()
	c, _ := newTestCoordinator(ft, Options{})

	first, err := c.Poll(context.Background())
	require.NoError(t, err)
	ft.set(func(f *fakeTransport) { f.rssi = pointer(-70) })
	second, err := c.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.SystemCheck, second.SystemCheck)
	assert.Equal(t, first.Connected, second.Connected)
	assert.Equal(t, -70, *second.SignalStrength)
}

func TestPollEmptySubMappingKeepsPrevious(t *testing.T) {
	ft := goodTransport()
	c, clock := newTestCoordinator(ft, Options{})

	first, err := c.Poll(context.Background())
	require.NoError(t, err)

	// empty system check is filled in from the last snapshot
	clock.Set(10 * time.Second)
	newState := map[string]interface{}{"target_hot_water_temperature": 55.0}
	ft.set(func(f *fakeTransport) {
		f.state = newState
		f.systemCheck = map[string]interface{}{}
	})
	snap, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Connected)
	assert.Equal(t, newState, snap.State)
	assert.Equal(t, first.SystemCheck, snap.SystemCheck)
	assert.Equal(t, epoch.Add(10*time.Second), c.State().LastSuccessfulAt)

	// empty state is filled in but not recorded as a successful snapshot
	clock.Set(20 * time.Second)
	ft.set(func(f *fakeTransport) { f.state = nil })
	snap, err = c.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Connected)
	assert.Equal(t, newState, snap.State)
	assert.Equal(t, epoch.Add(10*time.Second), c.State().LastSuccessfulAt)
}

func TestPollEmptySubMappingOutsideFreshness(t *testing.T) {
	ft := goodTransport()
	c, clock := newTestCoordinator(ft, Options{})

	_, err := c.Poll(context.Background())
	require.NoError(t, err)

	clock.Set(601 * time.Second)
	ft.set(func(f *fakeTransport) { f.systemCheck = nil })
	snap, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.SystemCheck)
	assert.NotNil(t, snap.SystemCheck)
	assert.Equal(t, ft.state, snap.State)
}

func TestPollTransportErrorServesStale(t *testing.T) {
	ft := goodTransport()
	c, clock := newTestCoordinator(ft, Options{})

	good, err := c.Poll(context.Background())
	require.NoError(t, err)

	clock.Set(30 * time.Second)
	ft.set(func(f *fakeTransport) { f.fetchErr = io.EOF })
	snap, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Connected)
	assert.Equal(t, good.State, snap.State)
	assert.Equal(t, good.SystemCheck, snap.SystemCheck)
	assert.Equal(t, good.Values, snap.Values)
	assert.Equal(t, -64, *snap.SignalStrength)

	cs := c.State()
	assert.Equal(t, Reconnecting, cs.Phase)
	assert.Equal(t, 1, cs.ReconnectAttempts)

	waitReconnect(c)
	_, connects, disconnects := ft.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", ft.address)
}

func TestStalenessBoundary(t *testing.T) {
	tests := []struct {
		name      string
		offset    time.Duration
		expectOld bool
	}{
		{name: "just inside window", offset: 600*time.Second - time.Millisecond, expectOld: true},
		{name: "just outside window", offset: 600*time.Second + time.Millisecond, expectOld: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ft := goodTransport()
			c, clock := newTestCoordinator(ft, Options{})

			_, err := c.Poll(context.Background())
			require.NoError(t, err)

			ft.set(func(f *fakeTransport) { f.fetchErr = io.EOF })
			clock.Set(tt.offset)
			snap, err := c.Poll(context.Background())
			require.NoError(t, err)
			assert.False(t, snap.Connected)
			if tt.expectOld {
				assert.Equal(t, ft.state, snap.State)
			} else {
				assert.Empty(t, snap.State)
				assert.Empty(t, snap.SystemCheck)
				assert.NotNil(t, snap.Values)
				assert.Nil(t, snap.Values.HotWaterTemperature)
			}
			waitReconnect(c)
		})
	}
}

func TestPollNoInitialData(t *testing.T) {
	ft := goodTransport()
	ft.fetchErr = io.EOF
	c, _ := newTestCoordinator(ft, Options{})

	snap, err := c.Poll(context.Background())
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, ErrNoInitialData)
	assert.False(t, IsFatal(err))
	assert.Equal(t, 1, c.State().ReconnectAttempts)
	waitReconnect(c)
}

func TestReconnectExhaustion(t *testing.T) {
	ft := goodTransport()
	ft.state = map[string]interface{}{"target_hot_water_temperature": 50.0}
	c, clock := newTestCoordinator(ft, Options{
		PollInterval:         30 * time.Second,
		StaleThreshold:       600 * time.Second,
		MaxReconnectAttempts: 5,
	})

	// last good snapshot from t=-100
	clock.Set(-100 * time.Second)
	good, err := c.Poll(context.Background())
	require.NoError(t, err)

	// device disconnects at t=0
	ft.set(func(f *fakeTransport) { f.fetchErr = io.EOF })

	for i := 1; i <= 5; i++ {
		clock.Set(time.Duration(i*30) * time.Second)
		snap, err := c.Poll(context.Background())
		require.NoError(t, err, "poll %d", i)
		assert.False(t, snap.Connected)
		assert.Equal(t, good.State, snap.State)
		assert.Equal(t, i, c.State().ReconnectAttempts)
		waitReconnect(c)
	}

	clock.Set(180 * time.Second)
	snap, err := c.Poll(context.Background())
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.True(t, IsFatal(err))
	assert.Equal(t, DisconnectedFatal, c.State().Phase)

	// terminal, nothing is reset
	_, err = c.Poll(context.Background())
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	_, connects, _ := ft.counts()
	assert.Equal(t, 5, connects)
	assert.Equal(t, 5, c.State().ReconnectAttempts)
}

func TestReconnectSucceedsOnThirdAttempt(t *testing.T) {
	ft := goodTransport()
	ft.connectResults = []error{io.EOF, io.EOF, nil}
	c, clock := newTestCoordinator(ft, Options{})

	clock.Set(-100 * time.Second)
	_, err := c.Poll(context.Background())
	require.NoError(t, err)
	ft.set(func(f *fakeTransport) { f.fetchErr = io.EOF })

	for i := 1; i <= 3; i++ {
		clock.Set(time.Duration(i*30) * time.Second)
		snap, err := c.Poll(context.Background())
		require.NoError(t, err)
		assert.False(t, snap.Connected)
		waitReconnect(c)
	}

	cs := c.State()
	assert.Equal(t, Connected, cs.Phase)
	assert.Equal(t, 0, cs.ReconnectAttempts)

	fresh := map[string]interface{}{"target_hot_water_temperature": 65.0}
	ft.set(func(f *fakeTransport) { f.state = fresh })
	clock.Set(120 * time.Second)
	snap, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Connected)
	assert.Equal(t, fresh, snap.State)
	assert.Equal(t, 0, c.State().ReconnectAttempts)
	assert.Equal(t, epoch.Add(120*time.Second), c.State().LastSuccessfulAt)
}

func TestSingleFlightReconnect(t *testing.T) {
	ft := goodTransport()
	block := make(chan struct{})
	ft.connectBlock = block
	c, _ := newTestCoordinator(ft, Options{})

	_, err := c.Poll(context.Background())
	require.NoError(t, err)
	ft.set(func(f *fakeTransport) { f.fetchErr = io.EOF })

	_, err = c.Poll(context.Background())
	require.NoError(t, err)
	WaitFor(t, time.Second, "connect to start", func() bool {
		_, connects, _ := ft.counts()
		return connects == 1
	})
	assert.True(t, c.State().ReconnectInFlight)

	ft.Lock()
	rssiCalls := ft.rssiCalls
	ft.Unlock()

	// a second poll while the reconnect is pending is a no-op
	snap, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Connected)
	assert.Nil(t, snap.SignalStrength)
	assert.Equal(t, 1, c.State().ReconnectAttempts)

	ft.Lock()
	assert.Equal(t, rssiCalls, ft.rssiCalls)
	ft.Unlock()

	close(block)
	waitReconnect(c)
	_, connects, _ := ft.counts()
	assert.Equal(t, 1, connects)
	assert.False(t, c.State().ReconnectInFlight)
}

func TestReconnectUnresolvedAddress(t *testing.T) {
	ft := goodTransport()
	c, _ := newTestCoordinator(ft, Options{})
	c.resolver = transport.NewStaticResolver(nil)

	_, err := c.Poll(context.Background())
	require.NoError(t, err)
	ft.set(func(f *fakeTransport) { f.fetchErr = io.EOF })

	_, err = c.Poll(context.Background())
	require.NoError(t, err)
	waitReconnect(c)

	_, connects, disconnects := ft.counts()
	assert.Equal(t, 0, connects)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, Reconnecting, c.State().Phase)
}

func TestSignalStrengthIndependentOfConnection(t *testing.T) {
	ft := goodTransport()
	ft.rssiErr = errors.New("no advertisement")
	c, _ := newTestCoordinator(ft, Options{})

	snap, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Connected)
	assert.Nil(t, snap.SignalStrength)

	ft.set(func(f *fakeTransport) {
		f.rssiErr = nil
		f.rssi = pointer(-80)
		f.fetchErr = io.EOF
	})
	snap, err = c.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Connected)
	assert.Equal(t, -80, *snap.SignalStrength)
	waitReconnect(c)
}

func TestPollCancelledIsNotADisconnect(t *testing.T) {
	ft := goodTransport()
	c, _ := newTestCoordinator(ft, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Connected, c.State().Phase)
	assert.Equal(t, 0, c.State().ReconnectAttempts)
}

func TestCommand(t *testing.T) {
	ft := goodTransport()
	c, _ := newTestCoordinator(ft, Options{})

	called := false
	err := c.Command(context.Background(), func(ctx context.Context, tr transport.Transport) error {
		called = true
		assert.Equal(t, ft, tr)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)

	validation := errors.New("temperature out of range")
	err = c.Command(context.Background(), func(ctx context.Context, tr transport.Transport) error {
		return validation
	})
	assert.ErrorIs(t, err, validation)
	assert.Equal(t, Connected, c.State().Phase)

	err = c.Command(context.Background(), func(ctx context.Context, tr transport.Transport) error {
		return transport.Wrap("set hot water temperature", io.EOF)
	})
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, Reconnecting, c.State().Phase)

	err = c.Command(context.Background(), func(ctx context.Context, tr transport.Transport) error {
		t.Error("command must not run while disconnected")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestCommandTransportNotConnected(t *testing.T) {
	c, _ := newTestCoordinator(goodTransport(), Options{})

	err := c.Command(context.Background(), func(ctx context.Context, tr transport.Transport) error {
		return transport.ErrNotConnected
	})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Reconnecting, c.State().Phase)
}

func TestShutdownCancelsReconnect(t *testing.T) {
	ft := goodTransport()
	ft.connectBlock = make(chan struct{})
	c, _ := newTestCoordinator(ft, Options{})

	_, err := c.Poll(context.Background())
	require.NoError(t, err)
	ft.set(func(f *fakeTransport) { f.fetchErr = io.EOF })
	_, err = c.Poll(context.Background())
	require.NoError(t, err)
	WaitFor(t, time.Second, "connect to start", func() bool {
		_, connects, _ := ft.counts()
		return connects == 1
	})

	err = c.Shutdown(context.Background())
	assert.NoError(t, err)
	assert.False(t, c.State().ReconnectInFlight)
	assert.Equal(t, Reconnecting, c.State().Phase)
	_, _, disconnects := ft.counts()
	assert.Equal(t, 2, disconnects)
}

func TestShutdownTimeout(t *testing.T) {
	ft := goodTransport()
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	ft.disconnectHang = hang
	c, _ := newTestCoordinator(ft, Options{ShutdownTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := c.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{MaxReconnectAttempts: 2, StaleThreshold: time.Minute}.withDefaults()
	assert.Equal(t, 2, o.MaxReconnectAttempts)
	assert.Equal(t, time.Minute, o.StaleThreshold)
	assert.Equal(t, DefaultPollInterval, o.PollInterval)
	assert.Equal(t, DefaultCommandDelay, o.CommandDelay)
	assert.Equal(t, DefaultConnectTimeout, o.ConnectTimeout)
	assert.Equal(t, DefaultReconnectSettle, o.ReconnectSettle)
	assert.Equal(t, DefaultShutdownTimeout, o.ShutdownTimeout)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "disconnected_fatal", DisconnectedFatal.String())
	assert.Equal(t, "unknown", Phase(42).String())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}

func WaitFor(t *testing.T, timeout time.Duration, msg string, ok func() bool) {
	end := time.Now().Add(timeout)
	for {
		if end.Before(time.Now()) {
			t.Errorf("timeout waiting for: %s", msg)
			return
		}
		time.Sleep(10 * time.Millisecond)
		if ok() {
			return
		}
	}
}
