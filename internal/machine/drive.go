package machine

import (
	"context"
	"runtime/debug"
)

// panicker is implemented by states reached before a terminal or
// rest outcome — the only ones for which a recovered panic can be turned
// into a meaningful Panic transition, because they carry a RequestID (and,
// past origin resolution, an Origin) to persist against.
type panicker interface {
	panicState() Panic
}

// Drive runs the state machine starting from start until a step returns a
// nil next state. Panics inside a step are recovered — mirroring core/
// middleware.go's RecoveryMiddleware and orchestration/task_worker.go's
// debug.Stack()-logging recover — and, where the panicking state carries
// enough context, converted into a Panic transition rather than crashing
// the process or silently losing the request.
func Drive(ctx context.Context, svc *Services, start State) {
	current := start
	for current != nil {
		next, recovered := safeStep(ctx, svc, current)
		if recovered != nil {
			current = *recovered
			continue
		}
		current = next
	}
}

// safeStep executes current.step with panic recovery. It returns either
// the step's normal next state, or — if step panicked — a recovered
// replacement state to continue the drive from.
func safeStep(ctx context.Context, svc *Services, current State) (next State, recovered *State) {
	defer func() {
		if r := recover(); r != nil {
			svc.Logger.Error("recovered panic during drive step", map[string]interface{}{
				"panic": r,
				"stack": string(debug.Stack()),
			})
			if p, ok := current.(panicker); ok {
				ps := State(p.panicState())
				recovered = &ps
			} else {
				var nilState State
				recovered = &nilState
			}
		}
	}()

	n, err := current.step(ctx, svc)
	if err != nil {
		svc.Logger.Error("drive step failed", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	return n, nil
}
