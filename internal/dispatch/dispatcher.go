// Package dispatch turns navigation decisions into outbound commands and
// delivers them, fire-and-forget, to a destination on the data channel.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/feedfilter/internal/mcp"
	"github.com/tjfontaine/feedfilter/internal/navigation"
)

const DefaultSettleDelay = 400 * time.Millisecond

// ErrDisconnected is reported for a send to a destination that is not
// connected. Nothing is queued.
var ErrDisconnected = errors.New("destination disconnected")

// Destination is one participant, or every participant for a broadcast.
type Destination interface {
	Identity() string
	Connected() bool
	// Send hands payload to the local transport. A nil error means the
	// transport accepted it, not that the remote side acted on it.
	Send(ctx context.Context, payload []byte) error
}

// Counter issues command ids. Ids start at 1 and increase by one per
// delivered command until Reset.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Next() int64 { return c.n.Add(1) }

// Last returns the most recently issued id, or 0.
func (c *Counter) Last() int64 { return c.n.Load() }

// Reset makes the next id 1 again. It is only called by an operator.
func (c *Counter) Reset() { c.n.Store(0) }

// Locator finds and clicks page elements out of band.
type Locator interface {
	Enabled() bool
	FindNotInterested(ctx context.Context, url string) (mcp.Link, bool, error)
	Click(ctx context.Context, url, selector string) error
}

// Sent records the outcome of one command.
type Sent struct {
	Destination string
	Type        string
	CommandID   int64
	Payload     []byte
	// Skipped is set when the destination was disconnected.
	Skipped bool
	Err     error
}

// Delivered reports whether the transport accepted the command.
func (s Sent) Delivered() bool { return !s.Skipped && s.Err == nil }

// Options configures a Dispatcher.
type Options struct {
	SettleDelay time.Duration
	// NavigateCommand is "scroll" for SCROLL_NEXT or "navigate" for
	// NAVIGATE_NEXT.
	NavigateCommand string
	Locator         Locator
	Logger          *slog.Logger
	Now             func() time.Time
	// Sleep waits between steps of a multi-step click; it returns early
	// with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher is safe for concurrent use by several track loops; the
// command counter is shared.
type Dispatcher struct {
	counter  *Counter
	settle   time.Duration
	navigate string
	locator  Locator
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(counter *Counter, opts Options) *Dispatcher {
	if counter == nil {
		counter = &Counter{}
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.NavigateCommand == "" {
		opts.NavigateCommand = "scroll"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Dispatcher{
		counter:  counter,
		settle:   opts.SettleDelay,
		navigate: opts.NavigateCommand,
		locator:  opts.Locator,
		logger:   opts.Logger,
		now:      opts.Now,
		sleep:    opts.Sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Counter returns the shared id counter.
func (d *Dispatcher) Counter() *Counter { return d.counter }

// Dispatch delivers the commands for decision to dst in order. A None
// decision sends nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, dst Destination, decision navigation.Decision) []Sent {
	switch decision.Kind {
	case navigation.KindClickTarget:
		return d.click(ctx, dst, decision.Click)
	case navigation.KindNavigateNext:
		return d.advance(ctx, dst, decision.Navigate)
	default:
		return nil
	}
}

func (d *Dispatcher) click(ctx context.Context, dst Destination, c *navigation.ClickTarget) []Sent {
	var sent []Sent

	switch {
	case d.locator != nil && d.locator.Enabled() && c.URL != "":
		sent = append(sent, d.locate(ctx, dst, c)...)
	default:
		sent = append(sent, d.steps(ctx, dst, c)...)
	}

	sent = append(sent, d.Send(ctx, dst, NewTriggerDetected(c.Trigger, c.Confidence)))
	return sent
}

// locate clicks through the locator. When the locator errors the
// extension steps run instead; when the click fails the located selector
// is handed to the extension.
func (d *Dispatcher) locate(ctx context.Context, dst Destination, c *navigation.ClickTarget) []Sent {
	link, found, err := d.locator.FindNotInterested(ctx, c.URL)
	if err != nil {
		d.logger.Warn("locator failed, using extension click",
			slog.String("url", c.URL), slog.String("error", err.Error()))
		return d.steps(ctx, dst, c)
	}
	if !found {
		d.logger.Warn("no not-interested control found on page", slog.String("url", c.URL))
		return nil
	}

	if err := d.locator.Click(ctx, c.URL, link.Selector); err != nil {
		d.logger.Warn("locator click failed, using extension click",
			slog.String("selector", link.Selector), slog.String("error", err.Error()))
		return []Sent{d.Send(ctx, dst, NewClick(link.Selector, link.Text, MethodMCP))}
	}
	d.logger.Info("clicked via locator", slog.String("selector", link.Selector), slog.String("text", link.Text))
	return nil
}

// steps sends the platform's click sequence with a settle delay between
// steps. A failed step is logged and the remaining steps still run.
func (d *Dispatcher) steps(ctx context.Context, dst Destination, c *navigation.ClickTarget) []Sent {
	steps := c.Strategy.NotInterested
	sent := make([]Sent, 0, len(steps))
	for i, step := range steps {
		if i > 0 {
			if err := d.sleep(ctx, d.settle); err != nil {
				d.logger.Warn("click sequence interrupted",
					slog.Int("step", i+1), slog.String("error", err.Error()))
				return sent
			}
		}
		s := d.Send(ctx, dst, NewClick(step.Selector, step.Text, step.Method()))
		if !s.Delivered() && len(steps) > 1 {
			d.logger.Warn("click step not delivered",
				slog.Int("step", i+1), slog.Int("steps", len(steps)), slog.String("platform", string(c.Strategy.ID)))
		}
		sent = append(sent, s)
	}
	return sent
}

func (d *Dispatcher) advance(ctx context.Context, dst Destination, n *navigation.NavigateNext) []Sent {
	var cmd Command
	if d.navigate == "navigate" {
		reasoning := fmt.Sprintf("%s after %.1fs", n.Reason, n.Elapsed.Seconds())
		cmd = newNavigate(n.Strategy, reasoning)
	} else {
		cmd = newScroll(n.Strategy)
	}
	return []Sent{d.Send(ctx, dst, cmd)}
}

// Status sends a STATUS_UPDATE.
func (d *Dispatcher) Status(ctx context.Context, dst Destination, status, message string) Sent {
	return d.Send(ctx, dst, NewStatus(status, message))
}

// Error sends an ERROR notice.
func (d *Dispatcher) Error(ctx context.Context, dst Destination, errorType, message string) Sent {
	return d.Send(ctx, dst, NewError(errorType, message))
}

// Send stamps cmd and hands it to dst. The connection is checked before an
// id is taken, so a skipped command never consumes one.
func (d *Dispatcher) Send(ctx context.Context, dst Destination, cmd Command) Sent {
	h := cmd.header()
	s := Sent{Destination: dst.Identity(), Type: h.Type}

	if !dst.Connected() {
		d.logger.Warn("destination disconnected, command skipped",
			slog.String("participant", s.Destination), slog.String("type", h.Type))
		s.Skipped = true
		s.Err = ErrDisconnected
		return s
	}

	if numbered(h.Type) {
		h.CommandID = d.counter.Next()
	}
	h.Timestamp = d.now().UnixMilli()
	s.CommandID = h.CommandID

	payload, err := json.Marshal(cmd)
	if err != nil {
		s.Err = fmt.Errorf("failed to encode %s: %w", h.Type, err)
		d.logger.Error("command encode failed", slog.String("error", s.Err.Error()))
		return s
	}
	s.Payload = payload

	if err := dst.Send(ctx, payload); err != nil {
		s.Err = err
		s.Skipped = errors.Is(err, ErrDisconnected)
		d.logger.Warn("command send failed",
			slog.String("participant", s.Destination),
			slog.String("type", h.Type),
			slog.Int64("command_id", h.CommandID),
			slog.String("error", err.Error()))
		return s
	}

	d.logger.Debug("command sent",
		slog.String("participant", s.Destination),
		slog.String("type", h.Type),
		slog.Int64("command_id", h.CommandID))
	return s
}
