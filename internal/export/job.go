package export

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

// State is a step of the export state machine.
type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StateStaging     State = "staging"
	StateCompositing State = "compositing"
	StateFinalizing  State = "finalizing"
	StateDelivered   State = "delivered"
	StateFailed      State = "failed"
)

var ErrIllegalTransition = errors.New("illegal export state transition")

var transitions = map[State][]State{
	StateIdle:        {StateValidating},
	StateValidating:  {StateStaging, StateCompositing},
	StateStaging:     {StateFinalizing},
	StateCompositing: {StateFinalizing},
	StateFinalizing:  {StateDelivered},
}

func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// CanTransition reports whether from -> to is a legal move. Failed is
// reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// Artifact is a delivered export file.
type Artifact struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Path     string `json:"-"`
	Size     int64  `json:"size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Frames   int    `json:"frames"`
}

// Job is the transient state of one export run. Identity and inputs are set
// before the run starts and never change; the rest is guarded by mu.
type Job struct {
	ID        string
	Format    FormatTag
	Strategy  string
	Policy    StopPolicy
	Visible   VisibleSet
	CreatedAt time.Time

	mu          sync.Mutex
	state       State
	spec        OutputSpec
	plan        []layout.Rect
	framesDone  int
	framesTotal int
	artifact    *Artifact
	err         *Error
	updatedAt   time.Time
	onChange    func(*Job)
}

// NewJob snapshots vs into a fresh idle job.
func NewJob(vs VisibleSet, format FormatTag, policy StopPolicy) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Format:    format,
		Policy:    policy,
		Visible:   vs.Clone(),
		CreatedAt: now,
		state:     StateIdle,
		updatedAt: now,
	}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Transition moves the job to the next state, rejecting illegal moves.
func (j *Job) Transition(to State) error {
	j.mu.Lock()
	from := j.state
	if !CanTransition(from, to) {
		j.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	j.state = to
	j.updatedAt = time.Now().UTC()
	cb := j.onChange
	j.mu.Unlock()

	if cb != nil {
		cb(j)
	}
	return nil
}

func (j *Job) SetProgress(done, total int) {
	j.mu.Lock()
	j.framesDone = done
	if total > 0 {
		j.framesTotal = total
	}
	j.mu.Unlock()
}

func (j *Job) Progress() (done, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.framesDone, j.framesTotal
}

func (j *Job) setPlan(spec OutputSpec, plan []layout.Rect) {
	j.mu.Lock()
	j.spec = spec
	j.plan = plan
	j.mu.Unlock()
}

// Spec returns the resolved canvas. It is zero until validation passes.
func (j *Job) Spec() OutputSpec {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.spec
}

func (j *Job) Plan() []layout.Rect {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.plan)
}

func (j *Job) Artifact() *Artifact {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.artifact
}

func (j *Job) Err() *Error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) deliver(a *Artifact) error {
	j.mu.Lock()
	j.artifact = a
	j.framesDone = a.Frames
	j.mu.Unlock()
	return j.Transition(StateDelivered)
}

// fail records err and moves the job to failed. The first error wins.
func (j *Job) fail(err *Error) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	if j.err == nil {
		j.err = err
	}
	j.mu.Unlock()
	_ = j.Transition(StateFailed)
}

// Status is the JSON view of a job.
type Status struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	Format      FormatTag  `json:"format"`
	Strategy    string     `json:"strategy"`
	StopPolicy  string     `json:"stop_policy"`
	Cameras     []string   `json:"cameras"`
	PaneCount   int        `json:"pane_count"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	FramesDone  int        `json:"frames_done"`
	FramesTotal int        `json:"frames_total,omitempty"`
	Artifact    *Artifact  `json:"artifact,omitempty"`
	ErrorKind   Kind       `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := Status{
		ID:          j.ID,
		State:       j.state,
		Format:      j.Format,
		Strategy:    j.Strategy,
		StopPolicy:  j.Policy.String(),
		Cameras:     j.Visible.Cameras(),
		PaneCount:   len(j.Visible),
		Width:       j.spec.Width,
		Height:      j.spec.Height,
		FramesDone:  j.framesDone,
		FramesTotal: j.framesTotal,
		Artifact:    j.artifact,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.updatedAt,
	}
	if j.err != nil {
		st.ErrorKind = j.err.Kind
		st.Error = j.err.Error()
	}
	if j.state.Terminal() {
		t := j.updatedAt
		st.FinishedAt = &t
	}
	return st
}
