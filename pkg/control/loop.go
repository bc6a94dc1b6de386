// Package control runs the pan/tilt control cycle: take the latest
// perception report, step the task queue, run tracking goals through the PD
// controller, and write one packet to the actuator.
//
// The task queue and controller belong to the goroutine running Loop.Run.
// Other goroutines reach them only through Submit, Select, Clear and Tune,
// which hand a closure to that goroutine and wait for it to run.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-pantilt/pkg/identity"
	"github.com/teslashibe/go-pantilt/pkg/perception"
	"github.com/teslashibe/go-pantilt/pkg/protocol"
	"github.com/teslashibe/go-pantilt/pkg/serialport"
	"github.com/teslashibe/go-pantilt/pkg/task"
	"github.com/teslashibe/go-pantilt/pkg/tracking"
)

// Errors returned by Loop.
var (
	ErrStopped        = errors.New("control loop stopped")
	ErrAlreadyRunning = errors.New("control loop already running")
)

// submitTimeout bounds how long a caller waits for the control goroutine.
const submitTimeout = 2 * time.Second

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	Observation perception.Observation
	Step        task.StepResult
	Command     tracking.Command
	Packet      protocol.ControlPacket
	Sent        bool
}

// Loop is the control loop.
type Loop struct {
	config     Config
	queue      *task.Queue
	controller *tracking.PDController
	memory     *identity.Memory
	sink       serialport.Sink
	mailbox    *perception.Mailbox
	updaters   []StateUpdater
	logger     *slog.Logger
	now        func() time.Time

	ops     chan func()
	stopped chan struct{}
	running atomic.Bool
	status  atomic.Pointer[Status]

	// Owned by the control goroutine
	command tracking.Command
	goal    task.Goal
	last    *PacketView
	lastObs perception.Observation
	cycles  uint64
	sent    uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithMemory resolves identities from report embeddings and target labels.
func WithMemory(m *identity.Memory) Option {
	return func(l *Loop) {
		l.memory = m
	}
}

// WithMailbox sets the perception mailbox Run reads from.
func WithMailbox(mb *perception.Mailbox) Option {
	return func(l *Loop) {
		l.mailbox = mb
	}
}

// WithStateUpdater adds a dashboard receiving status and log lines.
func WithStateUpdater(s StateUpdater) Option {
	return func(l *Loop) {
		l.updaters = append(l.updaters, s)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger.With("component", "control")
	}
}

// New creates a control loop writing to sink.
func New(config Config, sink serialport.Sink, opts ...Option) *Loop {
	cfg := config.normalized()

	l := &Loop{
		config:  cfg,
		sink:    sink,
		logger:  slog.Default().With("component", "control"),
		now:     time.Now,
		ops:     make(chan func()),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.mailbox == nil {
		l.mailbox = perception.NewMailbox()
	}

	taskCfg := cfg.Task
	if taskCfg.IdleGoal == (task.Goal{}) {
		taskCfg.IdleGoal = task.Goal{X: cfg.Tracking.FrameCenterX, Y: cfg.Tracking.FrameCenterY}
	}

	var resolver task.TargetResolver
	if l.memory != nil {
		resolver = l.memory
	}
	l.queue = task.NewQueue(taskCfg, resolver)
	l.controller = tracking.NewPDController(cfg.Tracking)
	l.command = l.controller.Home()
	l.publish()

	return l
}

// AddStateUpdater adds a dashboard after construction. It must be called
// before Run.
func (l *Loop) AddStateUpdater(s StateUpdater) {
	l.updaters = append(l.updaters, s)
	s.UpdateStatus(l.Status())
}

// Mailbox returns the mailbox perception publishers write to.
func (l *Loop) Mailbox() *perception.Mailbox {
	return l.mailbox
}

// Status returns the latest status snapshot. Safe from any goroutine.
func (l *Loop) Status() Status {
	return *l.status.Load()
}

// Run drives the loop until ctx is cancelled or the sink fails. A sink
// failure is returned; cancellation returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.stopped)

	ticker := time.NewTicker(l.config.CycleInterval)
	defer ticker.Stop()

	fmt.Printf("🎯 Control loop started\n")
	fmt.Printf("    Cycle: %v, Max report age: %v, Emit idle: %v\n",
		l.config.CycleInterval, l.config.MaxReportAge, l.config.EmitIdle)
	fmt.Printf("    PD Control: Kp=%.3f/%.3f, Kd=%.3f/%.3f, α=%.2f, DeadZone=%.0fpx\n",
		l.config.Tracking.KpPan, l.config.Tracking.KpTilt,
		l.config.Tracking.KdPan, l.config.Tracking.KdTilt,
		l.config.Tracking.Alpha, l.config.Tracking.DeadZone)

	l.publish()

	for {
		select {
		case <-ctx.Done():
			l.running.Store(false)
			l.publish()
			return nil

		case op := <-l.ops:
			op()
			l.publish()

		case <-ticker.C:
			report, ok := l.mailbox.Take(l.now(), l.config.MaxReportAge)
			if !ok {
				report = perception.Report{}
			}
			if _, err := l.Cycle(report); err != nil {
				l.running.Store(false)
				l.publish()
				return err
			}
		}
	}
}

// Cycle runs one control cycle on a perception report. It must only be
// called from the goroutine that owns the loop (or in tests, without Run).
// The returned error is a sink failure.
func (l *Loop) Cycle(report perception.Report) (CycleResult, error) {
	obs := l.observe(report)
	l.lastObs = obs

	step := l.queue.Step(obs)
	l.goal = step.Goal
	res := CycleResult{Observation: obs, Step: step}

	if step.Active && step.Started {
		l.taskStarted(step)
	}

	switch {
	case !step.Active:
		// Idle: hold the last commanded position
		res.Command = l.command
	case step.Kind == task.KindTrack:
		res.Command = l.controller.Update(step.Goal.X, step.Goal.Y)
	default:
		res.Command = tracking.Command{Pan: step.Goal.X, Tilt: step.Goal.Y}
	}
	l.command = res.Command
	res.Packet = protocol.PacketFromGoal(uint8(step.Kind), res.Command.Pan, res.Command.Tilt)

	l.cycles++
	if step.Active || l.config.EmitIdle {
		if err := l.sink.Send(res.Packet); err != nil {
			return res, fmt.Errorf("send packet: %w", err)
		}
		res.Sent = true
		l.sent++
	}

	l.last = &PacketView{
		Kind:     res.Packet.Kind,
		KindName: step.Kind.String(),
		X:        res.Packet.X,
		Y:        res.Packet.Y,
		TaskID:   step.ID,
		Sent:     res.Sent,
		At:       l.now(),
	}

	if step.Popped {
		l.taskFinished(step)
	}

	l.publish()
	return res, nil
}

// observe converts a report into an observation, resolving identity from
// the embedding when the publisher did not. A failed match leaves the
// observation without identity.
func (l *Loop) observe(report perception.Report) perception.Observation {
	obs := report.Observation()
	if !obs.Present || obs.HasIdentity || len(report.Embedding) == 0 || l.memory == nil {
		return obs
	}

	match, err := l.memory.MatchOrAdd(report.Embedding)
	if err != nil {
		l.logger.Debug("identity match failed", "error", err)
		return obs
	}
	if match.New {
		label, _ := l.memory.Label(match.ID)
		l.log("identity", fmt.Sprintf("New identity %d (%s)", match.ID, label))
	}
	return obs.WithIdentity(match.ID)
}

func (l *Loop) taskStarted(step task.StepResult) {
	if step.Kind == task.KindTrack {
		// Start from where the rig points now, with no stale PD history
		l.controller.Hold()
		l.controller.SetPosition(l.command)
	}

	l.logger.Info("task started", "task_id", step.ID, "kind", step.Kind)
	l.log("task", fmt.Sprintf("Started %s task %s", step.Kind, shortID(step.ID)))
}

func (l *Loop) taskFinished(step task.StepResult) {
	l.logger.Info("task finished", "task_id", step.ID, "kind", step.Kind, "remaining", l.queue.Len())
	l.log("task", fmt.Sprintf("Finished %s task %s", step.Kind, shortID(step.ID)))
}

// Enqueue adds a task. Like Cycle it must only be called from the owning
// goroutine; use Submit from anywhere else.
func (l *Loop) Enqueue(req task.Request) (task.ID, error) {
	id, err := l.queue.Enqueue(req)
	if err != nil {
		return "", err
	}
	l.logger.Info("task queued", "task_id", id, "kind", req.Kind, "queue_len", l.queue.Len())
	l.log("task", fmt.Sprintf("Queued %s task %s", req.Kind, shortID(id)))
	l.publish()
	return id, nil
}

// Submit enqueues a task from any goroutine.
func (l *Loop) Submit(ctx context.Context, req task.Request) (task.ID, error) {
	var (
		id  task.ID
		err error
	)
	if doErr := l.do(ctx, func() { id, err = l.Enqueue(req) }); doErr != nil {
		return "", doErr
	}
	return id, err
}

// Selection is a pointer click on the camera image.
type Selection struct {
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Identity *uint32 `json:"identity,omitempty"`
}

// Select replaces the queue with a track task for the selected person. With
// no identity given, the identity of the last observation is used if it lies
// within SelectRadius of the click; otherwise the task follows anyone.
func (l *Loop) Select(ctx context.Context, sel Selection) (task.ID, error) {
	var (
		id  task.ID
		err error
	)
	doErr := l.do(ctx, func() {
		var identityID uint32
		switch {
		case sel.Identity != nil:
			identityID = *sel.Identity
		case l.lastObs.Present && l.lastObs.HasIdentity:
			dx := float64(sel.X - l.lastObs.Position.X)
			dy := float64(sel.Y - l.lastObs.Position.Y)
			if math.Hypot(dx, dy) <= l.config.SelectRadius {
				identityID = l.lastObs.Identity
			}
		}

		id, err = l.queue.Replace(task.NewTrackRequest(identityID))
		if err != nil {
			return
		}
		l.logger.Info("target selected", "x", sel.X, "y", sel.Y, "identity", identityID, "task_id", id)
		l.log("select", fmt.Sprintf("Selected (%d,%d) identity %d", sel.X, sel.Y, identityID))
	})
	if doErr != nil {
		return "", doErr
	}
	return id, err
}

// Clear drops every queued task, including the active one.
func (l *Loop) Clear(ctx context.Context) (int, error) {
	var n int
	err := l.do(ctx, func() {
		n = l.queue.Clear()
		l.logger.Info("queue cleared", "removed", n)
		l.log("task", fmt.Sprintf("Cleared %d task(s)", n))
	})
	return n, err
}

// Tune applies controller tuning. Zero fields are left unchanged.
func (l *Loop) Tune(ctx context.Context, params tracking.TuningParams) (tracking.TuningParams, error) {
	var applied tracking.TuningParams
	err := l.do(ctx, func() {
		l.controller.ApplyTuning(params)
		applied = l.controller.Tuning()
		l.logger.Info("tuning applied", "params", applied)
	})
	return applied, err
}

// do runs fn on the control goroutine and waits for it. It blocks until Run
// is receiving, up to submitTimeout.
func (l *Loop) do(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	done := make(chan struct{})
	op := func() {
		fn()
		close(done)
	}

	select {
	case l.ops <- op:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// publish stores a fresh status snapshot and notifies dashboards.
func (l *Loop) publish() {
	s := &Status{
		Running:     l.running.Load(),
		Cycles:      l.cycles,
		Sent:        l.sent,
		Queue:       l.queue.Snapshot(),
		Observation: l.lastObs.String(),
		Goal:        l.goal,
		Position:    l.command,
		LastPacket:  l.last,
		Tuning:      l.controller.Tuning(),
		EmitIdle:    l.config.EmitIdle,
		Dropped:     l.mailbox.Dropped(),
		UpdatedAt:   l.now(),
	}
	if active, ok := l.queue.Active(); ok {
		s.Active = &active
	}
	if l.memory != nil {
		s.Identities = l.memory.Len()
	}
	l.status.Store(s)

	for _, u := range l.updaters {
		u.UpdateStatus(*s)
	}
}

func (l *Loop) log(logType, message string) {
	for _, u := range l.updaters {
		u.AddLog(logType, message)
	}
}

func shortID(id task.ID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}
