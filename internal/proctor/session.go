// Package proctor runs the lifecycle of one live quiz attempt: it owns the
// countdown and the violation tally, and guarantees that exactly one
// submission leaves the session no matter how many terminal triggers race.
package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/model"
)

var (
	ErrAlreadyStarted  = errors.New("proctor: session already started")
	ErrNotActive       = errors.New("proctor: session is not active")
	ErrClosed          = errors.New("proctor: session closed")
	ErrUnknownQuestion = errors.New("proctor: unknown question")
)

const reportTimeout = 5 * time.Second

// State is the lifecycle position of a session.
type State int

const (
	StateNotStarted State = iota
	StateActive
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateActive:
		return "active"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Trigger names what ended a session.
type Trigger string

const (
	TriggerSubmit       Trigger = "submit"
	TriggerExpiry       Trigger = "expiry"
	TriggerViolationCap Trigger = "violation_cap"
	triggerViolation    Trigger = "violation"
)

// Outcome is the frozen snapshot handed to the Submitter.
type Outcome struct {
	Status         model.SubmissionStatus
	Trigger        Trigger
	ElapsedSeconds int
	Answers        []model.SubmittedAnswer
	Violations     []model.Violation
}

// Submitter delivers the single submission of a session.
type Submitter interface {
	Submit(ctx context.Context, o Outcome) (*model.SubmitResult, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, o Outcome) (*model.SubmitResult, error)

func (f SubmitterFunc) Submit(ctx context.Context, o Outcome) (*model.SubmitResult, error) {
	return f(ctx, o)
}

// Reporter receives advisory violation telemetry. Failures are ignored.
type Reporter interface {
	ReportViolation(ctx context.Context, v model.Violation) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, v model.Violation) error

func (f ReporterFunc) ReportViolation(ctx context.Context, v model.Violation) error {
	return f(ctx, v)
}

// SignalSource is a stream of violation signals, e.g. visibility or
// fullscreen change notifications. The returned func unsubscribes.
type SignalSource interface {
	Subscribe() (<-chan model.ViolationKind, func())
}

// Config wires a session. TimeLimit and Submitter are required.
type Config struct {
	TimeLimit     time.Duration
	MaxViolations int
	// QuestionIDs fixes the order of answers in the outcome. Answers for ids
	// outside this list are rejected when it is non-empty.
	QuestionIDs []string

	Submitter Submitter
	Reporter  Reporter
	Signals   SignalSource
	// EnterFullscreen is attempted once on start; its failure does not
	// block the attempt.
	EnterFullscreen func(ctx context.Context) error

	Now    func() time.Time
	Logger zerolog.Logger
}

// Snapshot is a read-only view of a running session.
type Snapshot struct {
	State            State
	RemainingSeconds int
	Violations       int
	MaxViolations    int
}

// Session is the attempt state machine: NotStarted -> Active -> Terminal.
type Session struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	state    State
	starting bool
	closed   bool
	tracker  *Tracker
	clock    *Clock
	answers  map[string]string
	order    []string
	known    map[string]struct{}

	outcome *Outcome
	result  *model.SubmitResult
	err     error

	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
	done     chan struct{}
	reports  sync.WaitGroup
}

// NewSession validates cfg and returns a session in NotStarted.
func NewSession(cfg Config) (*Session, error) {
	if cfg.TimeLimit <= 0 {
		return nil, errors.New("proctor: time limit must be positive")
	}
	if cfg.MaxViolations < 0 {
		return nil, errors.New("proctor: max violations must not be negative")
	}
	if cfg.Submitter == nil {
		return nil, errors.New("proctor: submitter is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Session{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "proctor_session").Logger(),
		tracker:  NewTracker(cfg.MaxViolations, cfg.Now),
		clock:    NewClock(cfg.TimeLimit, cfg.Now),
		answers:  make(map[string]string),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if len(cfg.QuestionIDs) > 0 {
		s.known = make(map[string]struct{}, len(cfg.QuestionIDs))
		for _, id := range cfg.QuestionIDs {
			s.known[id] = struct{}{}
		}
	}
	return s, nil
}

// Start requests fullscreen, starts the countdown and subscribes to
// violation signals. The session runs until a terminal trigger, Close, or
// cancellation of ctx.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateNotStarted || s.starting {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.starting = true
	s.mu.Unlock()

	if s.cfg.EnterFullscreen != nil {
		if err := s.cfg.EnterFullscreen(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Fullscreen request refused, continuing")
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.clock.Start()
	s.state = StateActive

	var signals <-chan model.ViolationKind
	unsubscribe := func() {}
	if s.cfg.Signals != nil {
		signals, unsubscribe = s.cfg.Signals.Subscribe()
	}
	timer := time.NewTimer(s.clock.Remaining())
	s.mu.Unlock()

	go s.run(ctx, timer, signals, unsubscribe)

	s.log.Debug().
		Dur("time_limit", s.cfg.TimeLimit).
		Int("max_violations", s.cfg.MaxViolations).
		Msg("Session started")
	return nil
}

func (s *Session) run(ctx context.Context, timer *time.Timer, signals <-chan model.ViolationKind, unsubscribe func()) {
	defer close(s.loopDone)
	defer unsubscribe()
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			return
		case kind, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if _, err := s.Record(ctx, kind); err != nil {
				return
			}
		case <-timer.C:
			s.trigger(ctx, TriggerExpiry)
			return
		}
	}
}

// Answer records the selection for a question. Later calls overwrite. An
// answer arriving after the countdown reached zero is rejected with
// ErrNotActive and ends the session by expiry.
func (s *Session) Answer(questionID, value string) error {
	s.mu.Lock()
	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.clock.Expired() {
		o := s.evaluateLocked(TriggerExpiry)
		s.mu.Unlock()
		s.deliver(context.Background(), o)
		return ErrNotActive
	}
	defer s.mu.Unlock()

	if s.known != nil {
		if _, ok := s.known[questionID]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownQuestion, questionID)
		}
	}
	if _, seen := s.answers[questionID]; !seen {
		s.order = append(s.order, questionID)
	}
	s.answers[questionID] = value
	return nil
}

// Record tallies a violation, reports it without waiting, and terminates
// the session when the cap is exceeded.
func (s *Session) Record(ctx context.Context, kind model.ViolationKind) (model.Violation, error) {
	s.mu.Lock()
	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		return model.Violation{}, err
	}
	v := s.tracker.Record(kind)
	o := s.evaluateLocked(triggerViolation)
	s.mu.Unlock()

	s.report(v)
	if o != nil {
		s.deliver(ctx, o)
	}
	return v, nil
}

// Submit ends the session on the student's request and waits for the
// submission result. Once the session is terminal it returns ErrNotActive.
func (s *Session) Submit(ctx context.Context) (*model.SubmitResult, error) {
	s.mu.Lock()
	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	o := s.evaluateLocked(TriggerSubmit)
	s.mu.Unlock()

	return s.deliver(ctx, o)
}

func (s *Session) trigger(ctx context.Context, t Trigger) {
	s.mu.Lock()
	if s.activeLocked() != nil {
		s.mu.Unlock()
		return
	}
	o := s.evaluateLocked(t)
	s.mu.Unlock()

	if o != nil {
		s.deliver(ctx, o)
	}
}

func (s *Session) activeLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.state != StateActive {
		return ErrNotActive
	}
	return nil
}

// evaluateLocked decides whether trigger t ends the session. An exceeded
// violation cap always wins, so a session that is both over the cap and
// out of time ends as terminated. Otherwise a clock at zero turns any
// trigger into an expiry. A non-nil outcome means the caller won
// the transition and must deliver it.
func (s *Session) evaluateLocked(t Trigger) *Outcome {
	status := model.SubmissionStatusCompleted
	switch {
	case s.tracker.OverLimit():
		status, t = model.SubmissionStatusTerminated, TriggerViolationCap
	case s.clock.Expired():
		t = TriggerExpiry
	case t == triggerViolation:
		return nil
	}

	s.clock.Freeze()
	s.state = StateTerminal
	s.stopOnce.Do(func() { close(s.stop) })

	o := &Outcome{
		Status:         status,
		Trigger:        t,
		ElapsedSeconds: s.clock.ElapsedSeconds(),
		Answers:        s.answersLocked(),
		Violations:     s.tracker.Violations(),
	}
	s.outcome = o
	return o
}

func (s *Session) answersLocked() []model.SubmittedAnswer {
	ids := s.cfg.QuestionIDs
	if len(ids) == 0 {
		ids = s.order
	}
	out := make([]model.SubmittedAnswer, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.SubmittedAnswer{QuestionID: id, Selected: s.answers[id]})
	}
	return out
}

func (s *Session) deliver(ctx context.Context, o *Outcome) (*model.SubmitResult, error) {
	res, err := s.cfg.Submitter.Submit(ctx, *o)

	s.mu.Lock()
	s.result, s.err = res, err
	s.mu.Unlock()
	close(s.done)

	evt := s.log.Info()
	if err != nil {
		evt = s.log.Warn().Err(err)
	}
	evt.Str("status", string(o.Status)).
		Str("trigger", string(o.Trigger)).
		Int("elapsed_seconds", o.ElapsedSeconds).
		Int("violations", len(o.Violations)).
		Msg("Session submitted")
	return res, err
}

func (s *Session) report(v model.Violation) {
	if s.cfg.Reporter == nil {
		return
	}
	s.reports.Add(1)
	go func() {
		defer s.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := s.cfg.Reporter.ReportViolation(ctx, v); err != nil {
			s.log.Debug().Err(err).Str("kind", string(v.Kind)).Msg("Violation report dropped")
		}
	}()
}

// Done is closed once the submission attempt has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the outcome and submission result. It is only meaningful
// after Done is closed.
func (s *Session) Result() (*Outcome, *model.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.result, s.err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the countdown and tally as seen right now.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:            s.state,
		RemainingSeconds: s.clock.RemainingSeconds(),
		Violations:       s.tracker.Count(),
		MaxViolations:    s.tracker.Max(),
	}
}

// Close tears the session down: the countdown and signal subscription are
// released and pending reports are awaited. An active session is left
// unsubmitted.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	started := s.state != StateNotStarted
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	if started {
		<-s.loopDone
	}
	s.reports.Wait()
}
