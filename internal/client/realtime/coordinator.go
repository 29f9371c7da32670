// Package realtime keeps one live event stream connection to the server,
// redialing with exponential backoff and feeding received notifications
// into the sync layer.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	httpClient "github.com/wishstash/wishstash/internal/client/api"
	"github.com/wishstash/wishstash/pkg/api"
)

//go:generate moq -out dialer_mock.go . Dialer

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// State of the realtime connection
type State string

const (
	// StateDisconnected means the coordinator is not running
	StateDisconnected State = "disconnected"

	// StateConnecting means a dial is in progress
	StateConnecting State = "connecting"

	// StateConnected means the event stream is live
	StateConnected State = "connected"

	// StateBackingOff means the last attempt failed and the coordinator
	// is waiting before redialing
	StateBackingOff State = "backing_off"
)

// Stream is one open event connection
type Stream interface {
	// Next blocks until the next event frame arrives
	Next(ctx context.Context) (api.EventFrame, error)

	// Close tears down the connection
	Close() error
}

// Dialer opens event streams
type Dialer interface {
	DialEvents(ctx context.Context) (Stream, error)
}

// Notifier receives every event frame from the live stream
type Notifier func(ctx context.Context, frame api.EventFrame)

// Config wires a coordinator's collaborators
type Config struct {
	Dialer Dialer
	Logger *slog.Logger

	// Notify is called for every received event frame
	Notify Notifier

	// OnConnect is called after every successful dial. Events are not
	// replayed after a reconnect, so this is where a full sync catches
	// up on anything missed while disconnected. Optional.
	OnConnect func(ctx context.Context)

	// RefreshAuth is called when a dial is rejected as unauthorized,
	// before the retry. Optional.
	RefreshAuth func(ctx context.Context) error

	// InitialBackoff and MaxBackoff override the redial delays when
	// nonzero
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Coordinator owns the realtime connection lifecycle
type Coordinator struct {
	cfg Config

	initial time.Duration
	max     time.Duration

	mu       gosync.Mutex
	state    State
	backoff  time.Duration
	lastSeen time.Time
}

// NewCoordinator creates a coordinator; call Run to start it
func NewCoordinator(cfg Config) *Coordinator {
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = initialBackoff
	}
	max := cfg.MaxBackoff
	if max <= 0 {
		max = maxBackoff
	}

	return &Coordinator{
		cfg:     cfg,
		initial: initial,
		max:     max,
		state:   StateDisconnected,
		backoff: initial,
	}
}

// State returns the current connection state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// LastSeen returns when the stream last showed signs of life, keepalive
// frames included. Zero until the first connect.
func (c *Coordinator) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Coordinator) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// nextBackoff returns the current delay and doubles it for the next
// failure, capped at maxBackoff
func (c *Coordinator) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	delay := c.backoff
	c.backoff *= 2
	if c.backoff > c.max {
		c.backoff = c.max
	}
	return delay
}

func (c *Coordinator) resetBackoff() {
	c.mu.Lock()
	c.backoff = c.initial
	c.mu.Unlock()
}

// Run dials, consumes, and redials until the context is canceled
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for {
		c.setState(StateConnecting)

		stream, err := c.cfg.Dialer.DialEvents(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if errors.Is(err, httpClient.ErrUnauthorized) && c.cfg.RefreshAuth != nil {
				if refreshErr := c.cfg.RefreshAuth(ctx); refreshErr == nil {
					// Fresh token, retry without waiting
					continue
				} else {
					c.cfg.Logger.Warn("auth refresh for event stream failed",
						slog.Any("error", refreshErr))
				}
			}

			if waitErr := c.waitBackoff(ctx, err); waitErr != nil {
				return waitErr
			}
			continue
		}

		c.resetBackoff()
		c.setState(StateConnected)
		c.touch()
		c.cfg.Logger.Info("event stream connected")

		if c.cfg.OnConnect != nil {
			c.cfg.OnConnect(ctx)
		}

		err = c.consume(ctx, stream)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if waitErr := c.waitBackoff(ctx, err); waitErr != nil {
			return waitErr
		}
	}
}

// waitBackoff sleeps out the current backoff delay or returns early on
// context cancellation
func (c *Coordinator) waitBackoff(ctx context.Context, cause error) error {
	delay := c.nextBackoff()
	c.setState(StateBackingOff)

	c.cfg.Logger.Warn("event stream down, redialing",
		slog.Duration("delay", delay),
		slog.Any("error", cause))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// consume reads frames until the stream breaks. The stream is closed on
// context cancellation so a blocked read unblocks.
func (c *Coordinator) consume(ctx context.Context, stream Stream) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()
	defer func() {
		_ = stream.Close()
	}()

	for {
		frame, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		c.touch()

		// Keepalives only prove the connection is alive
		if frame.Kind == api.EventKeepalive {
			continue
		}

		c.cfg.Logger.Debug("event received",
			slog.String("kind", string(frame.Kind)),
			slog.Int("subjects", len(frame.SubjectIDs)))

		c.cfg.Notify(ctx, frame)
	}
}
