package jog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltastage/stage"
	"deltastage/stage/kinematics"
)

// fakeLink records sent lines and replays canned answers
type fakeLink struct {
	sent    []string
	sendErr error
	ackErr  error
	acks    int
	idle    []string
	block   bool // WaitForOk waits for the context instead of answering

	// replies queues an "ok" per sent line, like a controller nobody reads
	replies bool
	queued  []string
	backlog []int // queued replies at the time of each send
	drained int
}

func (l *fakeLink) Send(line string) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, line)
	l.backlog = append(l.backlog, len(l.queued))
	if l.replies {
		l.queued = append(l.queued, "ok")
	}
	return nil
}

func (l *fakeLink) WaitForOk(ctx context.Context) error {
	if l.block {
		<-ctx.Done()
		return ctx.Err()
	}
	l.acks++
	if len(l.queued) > 0 {
		l.queued = l.queued[1:]
	}
	return l.ackErr
}

func (l *fakeLink) Drain() []string {
	out := l.queued
	l.queued = nil
	l.drained += len(out)
	return out
}

func (l *fakeLink) WaitForIdle(ctx context.Context, pause time.Duration) ([]string, error) {
	return l.idle, nil
}

func quiet(string, ...interface{}) {}

func newDeltaController(t *testing.T, link Link) *Controller {
	t.Helper()
	kin, err := kinematics.NewDelta(stage.Geometry{StageRadius: 35, StageHeight: 70, LeverLength: 35, BaseRadius: 35})
	require.NoError(t, err)
	c, err := NewController(kin, link, Options{WaitForAck: true, Logf: quiet})
	require.NoError(t, err)
	return c
}

func newCartesianController(t *testing.T, link Link) *Controller {
	t.Helper()
	kin, err := kinematics.NewCartesian(stage.Limits{})
	require.NoError(t, err)
	c, err := NewController(kin, link, Options{WaitForAck: true, Logf: quiet})
	require.NoError(t, err)
	return c
}

func TestMoveToOriginSendsZero(t *testing.T) {
	link := &fakeLink{}
	c := newDeltaController(t, link)

	require.NoError(t, c.MoveTo(context.Background(), stage.Position{}))
	assert.Equal(t, []string{"G0 X0.00000 Y0.00000 Z0.00000\n"}, link.sent)
	assert.Equal(t, 1, link.acks)
}

func TestMoveToUnreachableLeavesStateAlone(t *testing.T) {
	link := &fakeLink{}
	c := newDeltaController(t, link)
	require.NoError(t, c.MoveTo(context.Background(), stage.Position{Z: 1}))
	link.sent = nil

	err := c.MoveTo(context.Background(), stage.Position{Z: 50})
	require.Error(t, err)
	assert.ErrorIs(t, err, kinematics.ErrUnreachable)
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Empty(t, link.sent)
	assert.Equal(t, stage.Position{Z: 1}, c.Position())
}

func TestMoveToMirrorsY(t *testing.T) {
	link := &fakeLink{}
	c := newCartesianController(t, link)

	require.NoError(t, c.MoveTo(context.Background(), stage.Position{X: 1, Y: 2, Z: 3}))
	assert.Equal(t, []string{"G0 X1.00000 Y-2.00000 Z3.00000\n"}, link.sent)
	assert.Equal(t, stage.Position{X: 1, Y: 2, Z: 3}, c.Position())
}

func TestJogStepUsesIncrement(t *testing.T) {
	link := &fakeLink{}
	c := newCartesianController(t, link)

	require.NoError(t, c.SetStep(0.5))
	require.NoError(t, c.JogStep(context.Background(), stage.AxisZ, 1))
	require.NoError(t, c.JogStep(context.Background(), stage.AxisX, -1))
	assert.Equal(t, stage.Position{X: -0.5, Z: 0.5}, c.Position())

	assert.Error(t, c.SetStep(0))
	assert.Equal(t, 0.5, c.Step())
}

func TestHomeMovesXYBeforeZ(t *testing.T) {
	link := &fakeLink{}
	c := newCartesianController(t, link)
	ctx := context.Background()

	require.NoError(t, c.MoveTo(ctx, stage.Position{X: 1, Y: 2, Z: 3}))
	require.NoError(t, c.Home(ctx))

	assert.Equal(t, []string{
		"G0 X1.00000 Y-2.00000 Z3.00000\n",
		"G0 X0.00000 Y0.00000 Z3.00000\n",
		"G0 X0.00000 Y0.00000 Z0.00000\n",
	}, link.sent)
	assert.Equal(t, stage.Position{}, c.Position())
}

func TestHomeStopsAtFirstError(t *testing.T) {
	link := &fakeLink{}
	c := newCartesianController(t, link)
	ctx := context.Background()
	require.NoError(t, c.MoveTo(ctx, stage.Position{X: 1, Y: 2, Z: 3}))

	link.ackErr = errors.New("error:9")
	err := c.Home(ctx)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Len(t, link.sent, 2)
	assert.Equal(t, stage.Position{X: 1, Y: 2, Z: 3}, c.Position())
}

func TestZeroAxesKeepsStagePut(t *testing.T) {
	link := &fakeLink{}
	c := newCartesianController(t, link)
	ctx := context.Background()

	require.NoError(t, c.MoveTo(ctx, stage.Position{X: 1, Y: 2, Z: 3}))
	c.ZeroAxes(stage.AxisXY)

	assert.Equal(t, stage.Position{Z: 3}, c.Position())
	assert.Equal(t, stage.Position{X: 1, Y: -2}, c.MachineOffset())
	assert.Len(t, link.sent, 1)

	require.NoError(t, c.MoveTo(ctx, c.Position()))
	assert.Equal(t, link.sent[0], link.sent[1])

	c.ZeroAxes(stage.AxisZ)
	assert.Equal(t, stage.Position{}, c.Position())
	assert.Equal(t, stage.Position{X: 1, Y: -2, Z: 3}, c.MachineOffset())
}

func TestZeroOffsetIsStable(t *testing.T) {
	link := &fakeLink{}
	c := newDeltaController(t, link)
	before := c.ZeroOffset()

	require.NoError(t, c.MoveTo(context.Background(), stage.Position{X: 2, Z: 1}))
	c.ZeroAxes(stage.AxisXYZ)
	assert.Equal(t, before, c.ZeroOffset())
}

func TestAckTimeoutIsTransportError(t *testing.T) {
	link := &fakeLink{block: true}
	kin, err := kinematics.NewCartesian(stage.Limits{})
	require.NoError(t, err)
	c, err := NewController(kin, link, Options{WaitForAck: true, AckTimeout: 10 * time.Millisecond, Logf: quiet})
	require.NoError(t, err)

	err = c.MoveTo(context.Background(), stage.Position{X: 1})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, stage.Position{}, c.Position())
}

func TestSendFailureIsTransportError(t *testing.T) {
	sendErr := errors.New("port gone")
	link := &fakeLink{sendErr: sendErr}
	c := newCartesianController(t, link)

	err := c.MoveTo(context.Background(), stage.Position{X: 1})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, sendErr)
}

func TestNoWaitSkipsAck(t *testing.T) {
	link := &fakeLink{}
	kin, err := kinematics.NewCartesian(stage.Limits{})
	require.NoError(t, err)
	c, err := NewController(kin, link, Options{Logf: quiet})
	require.NoError(t, err)

	require.NoError(t, c.MoveTo(context.Background(), stage.Position{X: 1}))
	assert.Equal(t, 0, link.acks)
}

func TestUnlockAndRehomeSequences(t *testing.T) {
	link := &fakeLink{idle: []string{"<Idle|MPos:0.000,0.000,0.000>"}}
	c := newCartesianController(t, link)
	ctx := context.Background()

	out, err := c.Unlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"$X\n", "G92 X0 Y0 Z0\n", "?\n"}, link.sent)
	assert.Len(t, out, 2)

	link.sent = nil
	require.NoError(t, c.MoveTo(ctx, stage.Position{X: 1}))
	c.ZeroAxes(stage.AxisX)
	link.sent = nil

	_, err = c.Rehome(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"$H\n", "G92 X0 Y0 Z0\n", "G0 X2 Y2 Z2\n", "G92 X0 Y0 Z0\n", "?\n"}, link.sent)
	assert.Equal(t, stage.Position{}, c.MachineOffset())
}

func TestRehomeDiscardsStaleReplies(t *testing.T) {
	link := &fakeLink{replies: true}
	kin, err := kinematics.NewCartesian(stage.Limits{})
	require.NoError(t, err)
	c, err := NewController(kin, link, Options{Logf: quiet})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.JogStep(ctx, stage.AxisX, 1))
	}
	require.Len(t, link.queued, 3)
	link.sent, link.backlog = nil, nil

	_, err = c.Rehome(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"$H\n", "G92 X0 Y0 Z0\n", "G0 X2 Y2 Z2\n", "G92 X0 Y0 Z0\n", "?\n"}, link.sent)
	assert.Equal(t, []int{0, 0, 0, 0, 0}, link.backlog)
	assert.Equal(t, 3, link.drained)
}

func TestUnlockDiscardsStaleReplies(t *testing.T) {
	link := &fakeLink{queued: []string{"ok", "ok"}}
	c := newCartesianController(t, link)

	_, err := c.Unlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, link.backlog[0])
	assert.Equal(t, 2, link.drained)
}

func TestDeclareOrigin(t *testing.T) {
	link := &fakeLink{}
	c := newDeltaController(t, link)

	require.NoError(t, c.DeclareOrigin(context.Background()))
	assert.Equal(t, []string{"G92 X0 Y0 Z0\n"}, link.sent)
	assert.Equal(t, 1, link.acks)

	link.ackErr = errors.New("error:9")
	assert.ErrorIs(t, c.DeclareOrigin(context.Background()), ErrTransport)
}

func TestSetLinkKeepsPosition(t *testing.T) {
	c := newCartesianController(t, &fakeLink{})
	ctx := context.Background()
	require.NoError(t, c.MoveTo(ctx, stage.Position{X: 1, Y: 2}))

	next := &fakeLink{}
	require.NoError(t, c.SetLink(next))
	assert.Error(t, c.SetLink(nil))

	require.NoError(t, c.JogStep(ctx, stage.AxisZ, 1))
	assert.Len(t, next.sent, 1)
	assert.Equal(t, stage.Position{X: 1, Y: 2, Z: DefaultStep}, c.Position())
}

func TestNewControllerRejectsUnreachableOrigin(t *testing.T) {
	kin, err := kinematics.NewCartesian(stage.Limits{
		Min: stage.Point3{X: 1, Y: 1, Z: 1},
		Max: stage.Point3{X: 2, Y: 2, Z: 2},
	})
	require.NoError(t, err)

	_, err = NewController(kin, &fakeLink{}, Options{})
	assert.ErrorIs(t, err, kinematics.ErrUnreachable)
}
