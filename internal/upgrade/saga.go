package upgrade

import "github.com/go-logr/logr"

// sagaAction is one session call identified by the step it performs and the
// package version it acts on. A zero pkg means the saga's package.
type sagaAction struct {
	step Step
	pkg  Ref
	run  func() error
}

func (s *saga) refOf(action sagaAction) Ref {
	if action.pkg == (Ref{}) {
		return s.pkg
	}
	return action.pkg
}

// sagaStep pairs a forward action with the action that undoes it.
type sagaStep struct {
	action     sagaAction
	compensate *sagaAction
	// compensateOnFailure arms compensate before action runs, for actions that
	// can leave partial effects behind when they fail.
	compensateOnFailure bool
}

// saga runs steps in order. When a step fails, the armed compensations run in
// reverse order and the step's error is returned, joined with any compensation failures.
type saga struct {
	pkg      Ref
	steps    []sagaStep
	log      logr.Logger
	observer Observer
}

func (s *saga) run() error {
	armed := make([]sagaAction, 0, len(s.steps))
	for _, step := range s.steps {
		if step.compensate != nil && step.compensateOnFailure {
			armed = append(armed, *step.compensate)
		}
		ref := s.refOf(step.action)
		s.log.V(1).Info("running step", "package", ref.String(), "step", step.action.step.String())
		if err := step.action.run(); err != nil {
			cause := &StepError{Step: step.action.step, Package: ref, Err: err}
			s.log.V(1).Info("step failed", "package", ref.String(), "step", step.action.step.String(), "error", err.Error())
			return s.compensate(cause, armed)
		}
		if step.compensate != nil && !step.compensateOnFailure {
			armed = append(armed, *step.compensate)
		}
	}
	return nil
}

func (s *saga) compensate(cause error, armed []sagaAction) error {
	var failures []error
	for i := len(armed) - 1; i >= 0; i-- {
		action := armed[i]
		ref := s.refOf(action)
		s.log.V(1).Info("compensating", "package", ref.String(), "step", action.step.String())
		err := action.run()
		s.observer.CompensationFinished(action.step, err)
		if err != nil {
			failures = append(failures, &StepError{Step: action.step, Package: ref, Err: err})
		}
	}
	if len(failures) == 0 {
		return cause
	}
	return &CompensationError{Cause: cause, Failures: failures}
}
