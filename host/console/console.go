// Package console implements the interactive jog panel as a text command
// loop. It only issues abstract requests to the jog controller, so any front
// end can drive the same commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"deltastage/stage"
	"deltastage/stage/jog"
)

// ErrQuit is returned by Execute when the operator asks to leave
var ErrQuit = errors.New("quit")

// Controller is the part of the jog controller the console drives
type Controller interface {
	Position() stage.Position
	MachineOffset() stage.Position
	Step() float64
	SetStep(step float64) error
	MoveTo(ctx context.Context, p stage.Position) error
	JogStep(ctx context.Context, axis stage.Axis, dir int) error
	ZeroAxes(axes stage.Axis)
	Home(ctx context.Context) error
	Rehome(ctx context.Context) ([]string, error)
	Unlock(ctx context.Context) ([]string, error)
	Status(ctx context.Context) ([]string, error)
	Reset()
}

var _ Controller = (*jog.Controller)(nil)

type jogKey struct {
	axis stage.Axis
	dir  int
}

// Panel arrows: up/down move Y, left/right move X, page keys move Z
var jogKeys = map[string]jogKey{
	"up":    {stage.AxisY, 1},
	"down":  {stage.AxisY, -1},
	"left":  {stage.AxisX, -1},
	"right": {stage.AxisX, 1},
	"pgup":  {stage.AxisZ, 1},
	"pgdn":  {stage.AxisZ, -1},
	"x+":    {stage.AxisX, 1},
	"x-":    {stage.AxisX, -1},
	"y+":    {stage.AxisY, 1},
	"y-":    {stage.AxisY, -1},
	"z+":    {stage.AxisZ, 1},
	"z-":    {stage.AxisZ, -1},
}

// Console dispatches operator commands to a jog controller
type Console struct {
	ctl Controller
	out io.Writer

	// ListPorts enumerates serial devices for the "ports" command
	ListPorts func() ([]string, error)

	// Reconnect closes and reopens the controller port for the "stop"
	// command. GRBL resets when its port is reopened.
	Reconnect func(ctx context.Context) error

	// Prompt is printed before each command when running interactively
	Prompt string
}

// New creates a console writing its replies to out
func New(ctl Controller, out io.Writer) *Console {
	return &Console{
		ctl:    ctl,
		out:    out,
		Prompt: "> ",
	}
}

// Run reads commands from in until EOF or quit. Command errors are printed
// and do not end the session.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)

	for {
		if c.Prompt != "" {
			fmt.Fprint(c.out, c.Prompt)
		}
		if !scanner.Scan() {
			break
		}

		err := c.Execute(ctx, scanner.Text())
		if errors.Is(err, ErrQuit) {
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return nil
}

// Execute runs a single command line
func (c *Console) Execute(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}

	cmd := strings.ToLower(args[0])
	args = args[1:]

	if key, ok := jogKeys[cmd]; ok {
		if err := c.ctl.JogStep(ctx, key.axis, key.dir); err != nil {
			return err
		}
		c.printPosition()
		return nil
	}

	switch cmd {
	case "quit", "exit", "q":
		return ErrQuit

	case "help", "h":
		c.printHelp()

	case "pos", "p":
		c.printPosition()

	case "step":
		return c.step(args)

	case "move":
		return c.move(ctx, args)

	case "zero":
		axes := stage.AxisXYZ
		if len(args) > 0 {
			axes = stage.ParseAxes(args[0])
			if axes == 0 {
				return fmt.Errorf("unknown axes %q (use xy, z or xyz)", args[0])
			}
		}
		c.ctl.ZeroAxes(axes)
		c.printPosition()

	case "home":
		if err := c.ctl.Home(ctx); err != nil {
			return err
		}
		c.printPosition()

	case "rehome":
		lines, err := c.ctl.Rehome(ctx)
		c.printLines(lines)
		return err

	case "unlock":
		lines, err := c.ctl.Unlock(ctx)
		c.printLines(lines)
		return err

	case "status":
		lines, err := c.ctl.Status(ctx)
		c.printLines(lines)
		return err

	case "reset":
		c.ctl.Reset()
		c.printPosition()

	case "stop":
		if c.Reconnect == nil {
			return errors.New("stop not available")
		}
		fmt.Fprintln(c.out, "Stopping serial port")
		if err := c.Reconnect(ctx); err != nil {
			return fmt.Errorf("reopen failed: %w", err)
		}
		fmt.Fprintln(c.out, "Controller reset")

	case "ports":
		if c.ListPorts == nil {
			return errors.New("port listing not available")
		}
		ports, err := c.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(c.out, "No serial ports found")
		}
		for _, p := range ports {
			fmt.Fprintf(c.out, "  %s\n", p)
		}

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}

	return nil
}

func (c *Console) step(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "Step: %g (presets:%s)\n", c.ctl.Step(), presetList())
		return nil
	}

	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid step %q", args[0])
	}
	if err := c.ctl.SetStep(v); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Step: %g\n", c.ctl.Step())
	return nil
}

func (c *Console) move(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: move <x> <y> <z>")
	}

	var v [3]float64
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q", a)
		}
		v[i] = f
	}

	if err := c.ctl.MoveTo(ctx, stage.Position{X: v[0], Y: v[1], Z: v[2]}); err != nil {
		return err
	}
	c.printPosition()
	return nil
}

func (c *Console) printPosition() {
	p := c.ctl.Position()
	fmt.Fprintf(c.out, "X: %.5f  Y: %.5f  Z: %.5f  (step %g)\n", p.X, p.Y, p.Z, c.ctl.Step())
}

func (c *Console) printLines(lines []string) {
	for _, l := range lines {
		fmt.Fprintf(c.out, "  %s\n", l)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  up/down/left/right  - Jog Y+/Y-/X-/X+ by one step")
	fmt.Fprintln(c.out, "  pgup/pgdn           - Jog Z+/Z- by one step")
	fmt.Fprintln(c.out, "  x+ x- y+ y- z+ z-   - Same, by axis name")
	fmt.Fprintln(c.out, "  step [size]         - Show or set the jog increment")
	fmt.Fprintln(c.out, "  move <x> <y> <z>    - Move the TCP to an absolute position")
	fmt.Fprintln(c.out, "  zero [xy|z|xyz]     - Make the current position the origin")
	fmt.Fprintln(c.out, "  home                - Return to the origin, XY first")
	fmt.Fprintln(c.out, "  rehome              - Run the controller homing cycle")
	fmt.Fprintln(c.out, "  unlock              - Clear an alarm and reset coordinates")
	fmt.Fprintln(c.out, "  status              - Query controller status")
	fmt.Fprintln(c.out, "  stop                - Reopen the port, resetting the controller")
	fmt.Fprintln(c.out, "  pos                 - Show the current position")
	fmt.Fprintln(c.out, "  ports               - List serial ports")
	fmt.Fprintln(c.out, "  reset               - Forget offsets and position")
	fmt.Fprintln(c.out, "  quit/exit/q         - Exit the program")
	fmt.Fprintln(c.out)
}

func presetList() string {
	var b strings.Builder
	for _, p := range jog.StepPresets {
		fmt.Fprintf(&b, " %g", p)
	}
	return b.String()
}
