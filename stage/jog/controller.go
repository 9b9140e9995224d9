package jog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"deltastage/stage"
	"deltastage/stage/kinematics"
)

// ErrTransport wraps every failure reported by the link
var ErrTransport = errors.New("transport failure")

// StepPresets are the jog increments offered by the panel (mm)
var StepPresets = []float64{0.5, 0.1, 0.01, 0.001}

// DefaultStep is the initial jog increment
const DefaultStep = 0.1

// Link is the minimal command channel to the motion controller
type Link interface {
	Send(line string) error
	WaitForOk(ctx context.Context) error
}

// IdleLink is implemented by links that can wait for the controller to go
// quiet, collecting whatever it printed
type IdleLink interface {
	Link
	WaitForIdle(ctx context.Context, pause time.Duration) ([]string, error)
}

// Drainer is implemented by links that queue unread replies. Replies left
// by unacknowledged moves are discarded before any command that waits.
type Drainer interface {
	Drain() []string
}

// Options configures a Controller
type Options struct {
	WaitForAck bool
	AckTimeout time.Duration
	IdlePause  time.Duration
	Step       float64
	Logf       func(format string, args ...interface{})
}

// Controller holds one jog session: the displayed position, the offset
// accumulated by zeroing, and the tower displacements of the origin
type Controller struct {
	kin  kinematics.Kinematics
	link Link
	opts Options

	position stage.Position
	offset   stage.Position
	zero     stage.Displacements
	step     float64

	Logf func(format string, args ...interface{})
}

// NewController solves the origin once to obtain the zero offset. An
// unreachable origin means the geometry is unusable.
func NewController(kin kinematics.Kinematics, link Link, opts Options) (*Controller, error) {
	if kin == nil || link == nil {
		return nil, errors.New("jog: kinematics and link are required")
	}

	zero, err := kin.Solve(stage.Position{})
	if err != nil {
		return nil, fmt.Errorf("jog: origin is not reachable: %w", err)
	}

	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.IdlePause <= 0 {
		opts.IdlePause = 2 * time.Second
	}

	c := &Controller{
		kin:  kin,
		link: link,
		opts: opts,
		zero: zero,
		step: opts.Step,
		Logf: opts.Logf,
	}
	if c.Logf == nil {
		c.Logf = log.Printf
	}
	return c, nil
}

// Position returns the displayed TCP position
func (c *Controller) Position() stage.Position {
	return c.position
}

// MachineOffset returns the offset accumulated by ZeroAxes
func (c *Controller) MachineOffset() stage.Position {
	return c.offset
}

// ZeroOffset returns the tower displacements of the origin
func (c *Controller) ZeroOffset() stage.Displacements {
	return c.zero
}

// Step returns the jog increment
func (c *Controller) Step() float64 {
	return c.step
}

// SetStep changes the jog increment
func (c *Controller) SetStep(step float64) error {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return fmt.Errorf("jog: step must be positive, got %v", step)
	}
	c.step = step
	return nil
}

// Command returns the motion line for p without sending it
func (c *Controller) Command(p stage.Position) (string, error) {
	disp, err := c.kin.Solve(c.offset.Add(mirror(p)))
	if err != nil {
		return "", err
	}
	disp = disp.Sub(c.zero)

	names := c.kin.AxisNames()
	return fmt.Sprintf("G0 %s%.5f %s%.5f %s%.5f\n",
		names[0], clean(disp[0]),
		names[1], clean(disp[1]),
		names[2], clean(disp[2])), nil
}

// MoveTo drives the TCP to p. The displayed position only changes once the
// command went out (and was acknowledged when waiting).
func (c *Controller) MoveTo(ctx context.Context, p stage.Position) error {
	line, err := c.Command(p)
	if err != nil {
		return fmt.Errorf("jog: move to X%.5f Y%.5f Z%.5f: %w", p.X, p.Y, p.Z, err)
	}

	if err := c.exchange(ctx, line, c.opts.WaitForAck); err != nil {
		return err
	}

	c.position = p
	return nil
}

// Jog moves one axis by delta
func (c *Controller) Jog(ctx context.Context, axis stage.Axis, delta float64) error {
	p := c.position
	return c.MoveTo(ctx, p.With(axis, p.Get(axis)+delta))
}

// JogStep moves one axis by the current increment in the given direction
func (c *Controller) JogStep(ctx context.Context, axis stage.Axis, dir int) error {
	return c.Jog(ctx, axis, float64(dir)*c.step)
}

// ZeroAxes folds the displayed value of each selected axis into the machine
// offset and resets the display. Nothing is sent and the stage does not move.
func (c *Controller) ZeroAxes(axes stage.Axis) {
	shift := mirror(c.position)
	for _, a := range stage.Axes {
		if !axes.Has(a) {
			continue
		}
		c.offset = c.offset.With(a, c.offset.Get(a)+shift.Get(a))
		c.position = c.position.With(a, 0)
	}
}

// Home returns X and Y to zero first, then Z
func (c *Controller) Home(ctx context.Context) error {
	p := c.position
	p.X, p.Y = 0, 0
	if err := c.MoveTo(ctx, p); err != nil {
		return err
	}

	p.Z = 0
	return c.MoveTo(ctx, p)
}

// SetLink replaces the command channel, e.g. after the port was reopened.
// The displayed position and offsets are kept.
func (c *Controller) SetLink(link Link) error {
	if link == nil {
		return errors.New("jog: link is required")
	}
	c.link = link
	return nil
}

// DeclareOrigin tells the controller its current pose is the origin
func (c *Controller) DeclareOrigin(ctx context.Context) error {
	return c.exchange(ctx, "G92 X0 Y0 Z0\n", true)
}

// Unlock clears an alarm and declares the current pose as the origin
func (c *Controller) Unlock(ctx context.Context) ([]string, error) {
	idle, ok := c.link.(IdleLink)
	if !ok {
		return nil, errors.New("jog: link cannot wait for idle")
	}

	c.discardStale()
	if err := c.send("$X\n"); err != nil {
		return nil, err
	}
	out, err := idle.WaitForIdle(ctx, c.opts.IdlePause)
	if err != nil {
		return out, wrapTransport(err)
	}

	if err := c.DeclareOrigin(ctx); err != nil {
		return out, err
	}

	status, err := c.Status(ctx)
	return append(out, status...), err
}

// Rehome runs the controller's homing cycle and backs off to a known pose
func (c *Controller) Rehome(ctx context.Context) ([]string, error) {
	for _, line := range []string{"$H\n", "G92 X0 Y0 Z0\n", "G0 X2 Y2 Z2\n", "G92 X0 Y0 Z0\n"} {
		if err := c.exchange(ctx, line, true); err != nil {
			return nil, err
		}
	}

	c.position = stage.Position{}
	c.offset = stage.Position{}
	return c.Status(ctx)
}

// Status queries the controller and returns the lines it printed
func (c *Controller) Status(ctx context.Context) ([]string, error) {
	idle, ok := c.link.(IdleLink)
	if !ok {
		return nil, errors.New("jog: link cannot wait for idle")
	}

	c.discardStale()
	if err := c.send("?\n"); err != nil {
		return nil, err
	}
	out, err := idle.WaitForIdle(ctx, c.opts.IdlePause)
	if err != nil {
		return out, wrapTransport(err)
	}
	return out, nil
}

// Reset restores the startup state: origin displayed, no machine offset
func (c *Controller) Reset() {
	c.position = stage.Position{}
	c.offset = stage.Position{}
	c.step = c.opts.Step
}

func (c *Controller) exchange(ctx context.Context, line string, wait bool) error {
	if wait {
		c.discardStale()
	}
	if err := c.send(line); err != nil {
		return err
	}
	if !wait {
		return nil
	}

	if c.opts.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.AckTimeout)
		defer cancel()
	}

	if err := c.link.WaitForOk(ctx); err != nil {
		c.Logf("jog: %s: %v", strings.TrimSpace(line), err)
		return wrapTransport(err)
	}
	return nil
}

// discardStale drops replies nobody waited for, so the next wait sees the
// answer to its own command
func (c *Controller) discardStale() {
	d, ok := c.link.(Drainer)
	if !ok {
		return
	}
	for _, line := range d.Drain() {
		c.Logf("jog: discarding stale reply %q", line)
	}
}

func (c *Controller) send(line string) error {
	if err := c.link.Send(line); err != nil {
		return wrapTransport(err)
	}
	return nil
}

func wrapTransport(err error) error {
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// mirror maps a displayed position into the stage frame, where Y is inverted
func mirror(p stage.Position) stage.Position {
	p.Y = -p.Y
	return p
}

// clean avoids printing -0.00000
func clean(v float64) float64 {
	if math.Abs(v) < 5e-6 {
		return 0
	}
	return v
}
