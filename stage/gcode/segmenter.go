package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"deltastage/stage"
	"deltastage/stage/config"
)

const (
	layerMarkerPrefix = "Z:"
	endMarkerPrefix   = "*END"
)

// State is the segmenter's view of the machine. Positions are in output
// (scaled) units.
type State struct {
	Position          r3.Vec  // logical tool position after the last consumed line
	Layer             float64 // highest Z treated as part of the active layer
	SafeZ             float64 // travel height above the layer
	LastProbed        *r3.Vec // last touched point, nil at layer start
	PointsSinceDip    int
	PrintedSinceLayer bool
	Finished          bool // end-of-job marker seen
}

// Stats counts what a run did
type Stats struct {
	Lines       int // input lines consumed
	Output      int // lines emitted
	Touches     int
	Dips        int
	Exposures   int
	Layers      int
	ParseErrors int
	Dropped     int
}

// Segmenter rewrites a G-code stream into short touch-down moves for a dip
// probe. It is single pass and not safe for concurrent use.
type Segmenter struct {
	cfg    stage.SegmenterConfig
	parser *Parser
	state  State
	stats  Stats
	motion string // active modal motion code
	out    []string

	warnedFinished bool
	warnedRelative bool

	// Logf receives diagnostics, defaults to log.Printf
	Logf func(format string, args ...interface{})

	// Trace, when set, is called with every touched point
	Trace func(p r3.Vec)
}

// Option configures a Segmenter
type Option func(*Segmenter)

// WithLogger replaces the diagnostic logger. Passing nil mutes it.
func WithLogger(logf func(format string, args ...interface{})) Option {
	return func(s *Segmenter) {
		if logf == nil {
			logf = func(string, ...interface{}) {}
		}
		s.Logf = logf
	}
}

// WithTrace registers a callback for touched points
func WithTrace(fn func(p r3.Vec)) Option {
	return func(s *Segmenter) {
		s.Trace = fn
	}
}

// New creates a Segmenter. The configuration is validated up front.
func New(cfg stage.SegmenterConfig, opts ...Option) (*Segmenter, error) {
	if err := config.ValidateSegmenter(cfg); err != nil {
		return nil, err
	}

	s := &Segmenter{
		cfg:    cfg,
		parser: NewParser(),
		Logf:   log.Printf,
	}
	s.SetLayer(cfg.InitialLayer)
	s.state.Position = r3.Vec{Z: s.state.SafeZ}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetLayer sets the active layer height (output units) and its safe Z
func (s *Segmenter) SetLayer(z float64) {
	s.state.Layer = z
	s.state.SafeZ = z + s.cfg.SafeTravelZ
}

// SetPosition sets the logical tool position (output units)
func (s *Segmenter) SetPosition(p r3.Vec) {
	s.state.Position = p
}

// State returns a copy of the current state
func (s *Segmenter) State() State {
	st := s.state
	if st.LastProbed != nil {
		p := *st.LastProbed
		st.LastProbed = &p
	}
	return st
}

// Stats returns the counters so far
func (s *Segmenter) Stats() Stats {
	return s.stats
}

// Process streams r through the segmenter into w
func (s *Segmenter) Process(r io.Reader, w io.Writer) (Stats, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	bw := bufio.NewWriter(w)

	for scanner.Scan() {
		for _, line := range s.ProcessLine(scanner.Text()) {
			if _, err := bw.WriteString(line); err != nil {
				return s.stats, fmt.Errorf("failed to write output: %w", err)
			}
			if err := bw.WriteByte('\n'); err != nil {
				return s.stats, fmt.Errorf("failed to write output: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return s.stats, fmt.Errorf("failed to read input: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return s.stats, fmt.Errorf("failed to flush output: %w", err)
	}
	return s.stats, nil
}

// ProcessLine consumes one input line and returns the lines to emit
func (s *Segmenter) ProcessLine(line string) []string {
	s.out = s.out[:0]
	s.stats.Lines++

	s.handle(line)

	s.stats.Output += len(s.out)
	return append([]string(nil), s.out...)
}

func (s *Segmenter) handle(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		s.emit("")
		return
	}

	// M codes are meaningless to the dip process and may drive the extruder
	if s.cfg.DippingEnabled() && (trimmed[0] == 'M' || trimmed[0] == 'm') {
		s.stats.Dropped++
		return
	}

	cmd, err := s.parser.ParseLine(trimmed)
	if err != nil {
		s.stats.ParseErrors++
		var pe *ParseError
		if errors.As(err, &pe) {
			s.Logf("dipify: line %d: %v in %q, passing through unchanged", s.stats.Lines, pe.Err, pe.Token)
		} else {
			s.Logf("dipify: line %d: %v, passing through unchanged", s.stats.Lines, err)
		}
		s.emit(line)
		return
	}

	switch {
	case cmd.IsComment():
		s.emit(strings.TrimSpace("; " + cmd.Comment))
		s.handleMarker(cmd.Comment)

	case cmd.Verbatim:
		s.emit(trimmed)

	case cmd.Letter() == 'M' || cmd.Letter() == 'T':
		s.passThrough(cmd)

	default:
		s.handleG(cmd)
	}
}

func (s *Segmenter) handleMarker(comment string) {
	switch {
	case strings.HasPrefix(comment, layerMarkerPrefix):
		value := strings.TrimSpace(comment[len(layerMarkerPrefix):])
		z, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(z) || math.IsInf(z, 0) {
			s.Logf("dipify: line %d: ignoring malformed layer marker %q", s.stats.Lines, comment)
			return
		}
		s.layerChange(z * s.cfg.ScaleFactor)

	case strings.HasPrefix(comment, endMarkerPrefix):
		s.endOfJob()
	}
}

func (s *Segmenter) handleG(cmd *Command) {
	code := cmd.Code
	if code == "" {
		code = s.motion
	}

	switch code {
	case "G0", "G1":
		s.motion = code
	case "G91":
		if !s.warnedRelative {
			s.Logf("dipify: line %d: relative positioning is not tracked, output may be wrong", s.stats.Lines)
			s.warnedRelative = true
		}
	}

	target, moves := s.target(cmd)

	if code == "G92" {
		s.state.Position = target
		s.passThrough(cmd)
		return
	}

	if !moves || (code != "G0" && code != "G1") {
		s.passThrough(cmd)
		return
	}

	if s.state.Finished && !s.warnedFinished {
		s.Logf("dipify: line %d: motion after end-of-job marker", s.stats.Lines)
		s.warnedFinished = true
	}

	if code == "G1" && target.Z <= s.state.Layer && !s.state.Finished {
		if cmd.Comment != "" {
			s.emit("; " + cmd.Comment)
		}
		s.deposit(target)
		return
	}

	s.passThrough(cmd)
	s.state.Position = target
}

// target returns the scaled destination of a command and whether it names any axis
func (s *Segmenter) target(cmd *Command) (r3.Vec, bool) {
	t := s.state.Position
	moves := false
	for _, axis := range []struct {
		letter byte
		dst    *float64
	}{{'X', &t.X}, {'Y', &t.Y}, {'Z', &t.Z}} {
		if cmd.HasParameter(axis.letter) {
			*axis.dst = cmd.GetParameter(axis.letter, 0) * s.cfg.ScaleFactor
			moves = true
		}
	}
	return t, moves
}

// passThrough re-emits a command with scaled values, clamped feed and the
// extruder axis removed
func (s *Segmenter) passThrough(cmd *Command) {
	words := make([]string, 0, len(cmd.Params)+1)
	if cmd.Code != "" {
		words = append(words, cmd.Code)
	}

	stripped := 0
	for _, p := range cmd.Params {
		if s.isExtruder(p.Letter) {
			stripped++
			continue
		}
		v := p.Value * s.cfg.ScaleFactor
		if p.Letter == 'F' {
			v = s.clampFeed(v)
		}
		words = append(words, s.word(p.Letter, v))
	}

	if stripped > 0 && stripped == len(cmd.Params) && cmd.Comment == "" {
		// nothing left but the extruder move
		s.stats.Dropped++
		return
	}

	line := strings.Join(words, " ")
	if cmd.Comment != "" {
		line += " ; " + cmd.Comment
	}
	s.emit(line)
}

// deposit splits a working-height move into touch-downs
func (s *Segmenter) deposit(target r3.Vec) {
	length := s.cfg.SegmentLength
	here := s.state.Position
	raised := false

	if DistanceXY(here, target) > length*MaxSegments {
		s.Logf("dipify: line %d: move of %s is split into %d segments longer than %s",
			s.stats.Lines, s.num(DistanceXY(here, target)), MaxSegments, s.num(length))
	}

	for _, p := range SegmentPath(s.state.Position, target, length) {
		if s.state.LastProbed != nil && DistanceXY(*s.state.LastProbed, p) < length/2 {
			continue
		}

		if !raised {
			s.g1(Param{'Z', s.state.SafeZ}, Param{'F', s.cfg.MaxZFeedRate})
			raised = true
		}

		if s.cfg.DippingEnabled() {
			if s.state.PointsSinceDip >= s.cfg.ProbePointLimit {
				var hold float64
				if s.cfg.UVEnabled && s.cfg.ExposeOnDip {
					hold = s.cfg.UVShortSeconds
				}
				s.emit("; dip probe")
				s.dipCycle(here, 0, hold, true)
				s.state.PointsSinceDip = 0
			}
			s.state.PointsSinceDip++
		}

		s.g1(Param{'X', p.X}, Param{'Y', p.Y}, Param{'F', s.cfg.TravelFeedRate})
		here = r3.Vec{X: p.X, Y: p.Y, Z: target.Z}

		skim := target.Z + s.cfg.SkimHeight
		s.g1(Param{'Z', skim}, Param{'F', s.cfg.MaxZFeedRate})
		s.g1(Param{'Z', target.Z}, Param{'F', s.cfg.TouchFeedRate})
		s.g1(Param{'Z', skim}, Param{'F', s.cfg.TouchFeedRate})

		probed := here
		s.state.LastProbed = &probed
		s.state.PrintedSinceLayer = true
		s.stats.Touches++
		if s.Trace != nil {
			s.Trace(probed)
		}
	}

	if raised {
		s.g1(Param{'Z', s.state.SafeZ}, Param{'F', s.cfg.MaxZFeedRate})
	}
	s.state.Position = target
}

// dipCycle visits the reservoir and comes back to from's XY at the reservoir
// safe height. expose and hold are exposure times in seconds before and
// during the dip; zero skips them.
func (s *Segmenter) dipCycle(from r3.Vec, expose, hold float64, dip bool) {
	res := s.cfg.Reservoir

	s.g1(Param{'Z', s.cfg.DipSafeZ}, Param{'F', s.cfg.MaxZFeedRate})
	s.g1(Param{'X', res.X}, Param{'Y', res.Y}, Param{'F', s.cfg.TravelFeedRate})

	if expose > 0 {
		s.exposeUV(s.cfg.DipSafeZ, expose)
	}

	if dip {
		s.g1(Param{'Z', res.Z}, Param{'F', s.cfg.MaxZFeedRate})
		if hold > 0 {
			s.exposeUV(res.Z, hold)
		}
		s.g1(Param{'Z', s.cfg.DipSafeZ}, Param{'F', s.cfg.MaxZFeedRate})
		s.stats.Dips++
	}

	s.g1(Param{'X', from.X}, Param{'Y', from.Y}, Param{'F', s.cfg.TravelFeedRate})
}

// exposeUV switches the lamp on for a slow ascent from z lasting seconds
func (s *Segmenter) exposeUV(z, seconds float64) {
	rise := s.cfg.UVHoldRise
	feed := rise / seconds * 60

	s.emit(s.cfg.UVOnCommand)
	s.g1(Param{'Z', z + rise}, Param{'F', feed})
	s.emit(s.cfg.UVOffCommand)
	s.stats.Exposures++
}

// layerChange starts a new layer at z (output units)
func (s *Segmenter) layerChange(z float64) {
	var expose float64
	if s.cfg.UVEnabled && s.state.PrintedSinceLayer {
		expose = s.cfg.UVShortSeconds
	}
	dip := s.cfg.DippingEnabled()

	if expose > 0 || dip {
		s.emit(fmt.Sprintf("; layer change to Z%s", s.num(z)))
		s.dipCycle(s.state.Position, expose, 0, dip)
	}

	s.SetLayer(z)
	s.state.PointsSinceDip = 0
	s.state.PrintedSinceLayer = false
	s.state.LastProbed = nil
	s.stats.Layers++
}

// endOfJob parks the probe at the reservoir and cures the last layer
func (s *Segmenter) endOfJob() {
	res := s.cfg.Reservoir

	s.emit("; end of job")
	s.g1(Param{'Z', s.cfg.DipSafeZ}, Param{'F', s.cfg.MaxZFeedRate})
	s.g1(Param{'X', res.X}, Param{'Y', res.Y}, Param{'F', s.cfg.TravelFeedRate})
	if s.cfg.UVEnabled && s.cfg.UVLongSeconds > 0 {
		s.exposeUV(s.cfg.DipSafeZ, s.cfg.UVLongSeconds)
	}

	retreat := math.Max(s.cfg.DipSafeZ, s.state.SafeZ) + s.cfg.SafeTravelZ
	s.g1(Param{'Z', retreat}, Param{'F', s.cfg.MaxZFeedRate})

	s.state.Position = r3.Vec{X: res.X, Y: res.Y, Z: retreat}
	s.state.Finished = true
}

func (s *Segmenter) isExtruder(letter byte) bool {
	return s.cfg.ExtruderAxis != "" && toUpper(s.cfg.ExtruderAxis[0]) == letter
}

func (s *Segmenter) clampFeed(f float64) float64 {
	return math.Min(f, s.cfg.MaxZFeedRate)
}

// g1 emits a generated linear move; feed is clamped
func (s *Segmenter) g1(params ...Param) {
	words := make([]string, 0, len(params)+1)
	words = append(words, "G1")
	for _, p := range params {
		v := p.Value
		if p.Letter == 'F' {
			v = s.clampFeed(v)
		}
		words = append(words, s.word(p.Letter, v))
	}
	s.emit(strings.Join(words, " "))
}

func (s *Segmenter) word(letter byte, v float64) string {
	return string(letter) + s.num(v)
}

// num formats v at the configured precision, without negative zero
func (s *Segmenter) num(v float64) string {
	str := strconv.FormatFloat(v, 'f', s.cfg.Precision, 64)
	if strings.HasPrefix(str, "-") && strings.Trim(str, "-0.") == "" {
		return str[1:]
	}
	return str
}

func (s *Segmenter) emit(line string) {
	s.out = append(s.out, line)
}

