package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nergy-se/airahome/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Coordinator polls one device, hides transient link failures behind the last
// good snapshot and reconnects in the background a bounded number of times.
type Coordinator struct {
	deviceID  string
	transport transport.Transport
	resolver  transport.Resolver
	opts      Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// pollMu serializes every use of the transport made from Poll and Command.
	pollMu sync.Mutex

	mu            sync.Mutex
	conn          ConnectionState
	reconnectDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator for a device whose transport is expected to be
// connected already.
func New(deviceID string, t transport.Transport, r transport.Resolver, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		deviceID:  deviceID,
		transport: t,
		resolver:  r,
		opts:      opts.withDefaults(),
		now:       time.Now,
		sleep:     sleepContext,
		conn:      ConnectionState{Phase: Connected},
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *Coordinator) Options() Options {
	return c.opts
}

// State returns a copy of the current connection state.
func (c *Coordinator) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Poll produces one snapshot. It returns ErrReconnectExhausted once the
// reconnect budget is spent and ErrNoInitialData while the device is
// unreachable and nothing was ever fetched. Every other failure is absorbed.
func (c *Coordinator) Poll(ctx context.Context) (*Snapshot, error) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	c.mu.Lock()
	phase := c.conn.Phase
	idle := c.reconnectDone == nil
	c.mu.Unlock()

	if phase == DisconnectedFatal {
		return nil, ErrReconnectExhausted
	}

	var rssi *int
	if idle {
		rssi = c.signalStrength(ctx)
	}

	if phase == Connected {
		snap, err := c.fetch(ctx, rssi)
		if err == nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logrus.WithFields(logrus.Fields{
			"device": c.deviceID,
			"error":  err,
		}).Warn("coordinator: fetch failed, treating link as disconnected")
		c.markDisconnected()
	}

	return c.pollDisconnected(rssi)
}

// Command runs fn with exclusive access to the transport. It is refused while
// the link is not live and a transport failure marks the link as lost.
func (c *Coordinator) Command(ctx context.Context, fn func(ctx context.Context, t transport.Transport) error) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	if !c.State().IsConnected() {
		return ErrNotConnected
	}

	err := fn(ctx, c.transport)
	var te *transport.Error
	if errors.As(err, &te) || errors.Is(err, transport.ErrNotConnected) {
		logrus.WithFields(logrus.Fields{
			"device": c.deviceID,
			"error":  err,
		}).Warn("coordinator: command failed, treating link as disconnected")
		c.markDisconnected()
	}
	return err
}

// Shutdown cancels an in-flight reconnect and disconnects the transport,
// giving up after the shutdown timeout. Poll must not be called afterwards.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()

	ctx, cancel := context.WithTimeout(ctx, c.opts.ShutdownTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		c.wg.Wait()
		c.pollMu.Lock()
		defer c.pollMu.Unlock()
		errCh <- c.transport.Disconnect(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logrus.WithField("device", c.deviceID).Warnf("coordinator: error during disconnect: %s", err)
			return transport.Wrap("disconnect", err)
		}
		logrus.WithField("device", c.deviceID).Debug("coordinator: disconnected")
		return nil
	case <-ctx.Done():
		logrus.WithField("device", c.deviceID).Warn("coordinator: disconnect timed out")
		return ctx.Err()
	}
}

func (c *Coordinator) fetch(ctx context.Context, rssi *int) (*Snapshot, error) {
	start := c.now()

	st, err := c.transport.FetchState(ctx)
	if err != nil {
		return nil, transport.Wrap("fetch state", err)
	}

	// the link only handles one outstanding request reliably
	err = c.sleep(ctx, c.opts.CommandDelay)
	if err != nil {
		return nil, err
	}

	sc, err := c.transport.FetchSystemCheck(ctx)
	if err != nil {
		return nil, transport.Wrap("fetch system check", err)
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.ReconnectAttempts = 0
	stateFetched := len(st) > 0

	if c.conn.fresh(now, c.opts.StaleThreshold) {
		last := c.conn.LastSuccessful
		if len(st) == 0 && len(last.State) > 0 {
			logrus.WithField("device", c.deviceID).Debug("coordinator: using stale state due to empty fetch")
			st = last.State
		}
		if len(sc) == 0 && len(last.SystemCheck) > 0 {
			logrus.WithField("device", c.deviceID).Debug("coordinator: using stale system check due to empty fetch")
			sc = last.SystemCheck
		}
	}

	snap := newSnapshot(st, sc, true, rssi)
	if stateFetched {
		c.conn.LastSuccessful = snap
		c.conn.LastSuccessfulAt = now
		logrus.WithFields(logrus.Fields{
			"device":  c.deviceID,
			"elapsed": now.Sub(start).String(),
		}).Debug("coordinator: fetch successful")
	} else {
		logrus.WithField("device", c.deviceID).Warn("coordinator: fetch returned empty state, keeping previous snapshot")
	}

	return snap, nil
}

func (c *Coordinator) markDisconnected() {
	c.mu.Lock()
	if c.conn.Phase == Connected {
		c.conn.Phase = Reconnecting
	}
	c.mu.Unlock()
}

// pollDisconnected arms a reconnect if the budget allows and returns the best
// available data.
func (c *Coordinator) pollDisconnected(rssi *int) (*Snapshot, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.reconnectDone != nil:
		logrus.WithField("device", c.deviceID).Debug("coordinator: reconnect already in progress")
	case c.conn.Phase == Connected:
		// reconnected after this poll started, next poll fetches
	case c.conn.ReconnectAttempts >= c.opts.MaxReconnectAttempts:
		c.conn.Phase = DisconnectedFatal
		logrus.WithFields(logrus.Fields{
			"device":   c.deviceID,
			"attempts": c.conn.ReconnectAttempts,
		}).Error("coordinator: max reconnect attempts reached, giving up")
		return nil, ErrReconnectExhausted
	default:
		c.conn.ReconnectAttempts++
		logrus.WithFields(logrus.Fields{
			"device":  c.deviceID,
			"attempt": c.conn.ReconnectAttempts,
			"max":     c.opts.MaxReconnectAttempts,
		}).Info("coordinator: not connected, starting reconnect")
		c.startReconnectLocked()
	}

	if c.conn.fresh(now, c.opts.StaleThreshold) {
		logrus.WithFields(logrus.Fields{
			"device": c.deviceID,
			"age":    now.Sub(c.conn.LastSuccessfulAt).Round(time.Second).String(),
		}).Debug("coordinator: not connected, returning stale data")
		return c.conn.LastSuccessful.disconnectedCopy(rssi), nil
	}
	if c.conn.LastSuccessful == nil {
		return nil, ErrNoInitialData
	}
	logrus.WithField("device", c.deviceID).Warn("coordinator: not connected and last data too old, returning empty snapshot")
	return newSnapshot(nil, nil, false, rssi), nil
}

func (c *Coordinator) startReconnectLocked() {
	done := make(chan struct{})
	c.reconnectDone = done
	c.conn.ReconnectInFlight = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)

		ok := c.reconnect(c.ctx)

		c.mu.Lock()
		c.reconnectDone = nil
		c.conn.ReconnectInFlight = false
		if ok && c.conn.Phase == Reconnecting {
			c.conn.Phase = Connected
			c.conn.ReconnectAttempts = 0
		}
		c.mu.Unlock()
	}()
}

func (c *Coordinator) reconnect(ctx context.Context) bool {
	logger := logrus.WithField("device", c.deviceID)

	err := c.transport.Disconnect(ctx)
	if err != nil {
		logger.Debugf("coordinator: disconnect before reconnect failed: %s", err)
	}

	err = c.sleep(ctx, c.opts.ReconnectSettle)
	if err != nil {
		return false
	}

	address, err := c.resolver.Resolve(ctx, c.deviceID)
	if err != nil {
		logger.Warnf("coordinator: reconnect failed: %s", err)
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	err = c.transport.Connect(cctx, address, c.opts.ConnectTimeout)
	if err != nil {
		logger.WithField("address", address).Warnf("coordinator: reconnect failed: %s", err)
		return false
	}

	logger.WithField("address", address).Info("coordinator: reconnected")
	return true
}

func (c *Coordinator) signalStrength(ctx context.Context) *int {
	rssi, err := c.transport.SignalStrength(ctx)
	if err != nil {
		logrus.WithField("device", c.deviceID).Debugf("coordinator: error reading signal strength: %s", err)
		return nil
	}
	return rssi
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
