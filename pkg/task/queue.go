package task

import (
	"github.com/teslashibe/go-pantilt/pkg/perception"
)

// Queue is the FIFO of pending tasks. The head is the active task; it is
// popped only when it reports done, and at most once per Step.
//
// Queue is not safe for concurrent use. The control loop owns it.
type Queue struct {
	cfg      Config
	resolver TargetResolver
	tasks    []*Task
}

// StepResult is the outcome of one queue step.
type StepResult struct {
	Goal Goal
	Kind Kind
	ID   ID

	// Active is false when the queue was empty and Goal is the idle goal.
	Active bool
	// Started is true on the first cycle a task runs.
	Started bool
	// Popped is true when the task finished this cycle and was removed.
	Popped bool
}

// NewQueue creates an empty queue. The resolver maps named targets in track
// requests to identities and may be nil.
func NewQueue(cfg Config, resolver TargetResolver) *Queue {
	return &Queue{
		cfg:      cfg.normalized(),
		resolver: resolver,
	}
}

// Enqueue validates a request and appends the task it describes. On error the
// queue is unchanged and the returned ID is empty.
func (q *Queue) Enqueue(req Request) (ID, error) {
	t, err := q.build(req)
	if err != nil {
		return "", err
	}
	q.tasks = append(q.tasks, t)
	return t.id, nil
}

// Push appends an already constructed task.
func (q *Queue) Push(t *Task) ID {
	q.tasks = append(q.tasks, t)
	return t.id
}

func (q *Queue) build(req Request) (*Task, error) {
	kind, err := ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	d, hasDuration, err := req.duration()
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindSearch:
		if !hasDuration {
			d = q.cfg.SearchDuration
		}
		return NewSearch(q.cfg, d), nil

	case KindTrack:
		identity, bound, err := resolveTarget(req.Target, q.resolver)
		if err != nil {
			return nil, err
		}
		t := NewTrack(q.cfg)
		if bound {
			t = NewBoundTrack(q.cfg, identity)
		}
		if hasDuration {
			t.withLimit(d)
		}
		return t, nil
	}
	return nil, ErrUnknownKind
}

// Step runs one cycle of the active task: observe, reason, then done.
// With an empty queue it returns the idle goal and touches nothing.
func (q *Queue) Step(obs perception.Observation) StepResult {
	if len(q.tasks) == 0 {
		return StepResult{Goal: q.cfg.IdleGoal, Kind: KindIdle}
	}

	head := q.tasks[0]
	head.Observe(obs)
	goal := head.Reason()

	res := StepResult{
		Goal:    goal,
		Kind:    head.kind,
		ID:      head.id,
		Active:  true,
		Started: head.steps == 1,
	}

	if head.Done() {
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		res.Popped = true
	}
	return res
}

// Len returns the number of queued tasks, including the active one.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Active returns a snapshot of the head task.
func (q *Queue) Active() (Snapshot, bool) {
	if len(q.tasks) == 0 {
		return Snapshot{}, false
	}
	return q.tasks[0].Snapshot(), true
}

// Snapshot returns every queued task in order, head first.
func (q *Queue) Snapshot() []Snapshot {
	out := make([]Snapshot, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Snapshot()
	}
	return out
}

// Replace drops every queued task and enqueues the request in their place.
// On error the queue is unchanged.
func (q *Queue) Replace(req Request) (ID, error) {
	t, err := q.build(req)
	if err != nil {
		return "", err
	}
	q.tasks = []*Task{t}
	return t.id, nil
}

// Clear drops every task, including the active one. It returns how many were
// removed.
func (q *Queue) Clear() int {
	n := len(q.tasks)
	q.tasks = nil
	return n
}
