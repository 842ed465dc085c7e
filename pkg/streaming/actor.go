package streaming

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/log"
)

// Executor is one operator in an actor's pipeline: it consumes upstream
// messages (already barrier-aligned, if it has more than one input) and
// produces outbound messages. Operators compose by wrapping one another's
// Next, an explicit iterator state machine rather than
// nested generator macros so barrier cancellation points stay precise.
type Executor interface {
	// Next returns the next outbound message, or ok=false at end of
	// stream (actor drained after a Stop mutation).
	Next(ctx context.Context) (msg Message, ok bool, err error)
}

// Actor runs one Executor to completion, applying barrier mutations that
// target it and forwarding everything else to its Dispatcher.
type Actor struct {
	ID         uint32
	exec       Executor
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

// NewActor constructs an Actor around exec, dispatching its output through
// dispatcher.
func NewActor(id uint32, exec Executor, dispatcher *Dispatcher) *Actor {
	return &Actor{ID: id, exec: exec, dispatcher: dispatcher, logger: log.WithComponent("actor").With().Uint32("actor_id", id).Logger()}
}

// Run drives the actor until its executor reports end of stream or ctx is
// cancelled. A Barrier whose Mutation.Stop names this actor's id causes Run
// to forward that barrier and then return, after the mutation has been
// applied — the "after aligning, before forwarding" rule for
// Update, and analogously for Stop so downstream actors see a clean cut.
func (a *Actor) Run(ctx context.Context) error {
	for {
		msg, ok, err := a.exec.Next(ctx)
		if err != nil {
			return fmt.Errorf("streaming: actor %d: %w", a.ID, err)
		}
		if !ok {
			return nil
		}
		stopping := false
		if msg.IsBarrier() && msg.Barrier.Mutation != nil {
			m := msg.Barrier.Mutation
			if m.Kind == MutationStop {
				for _, id := range m.Stop {
					if id == a.ID {
						stopping = true
					}
				}
			}
		}
		if err := a.dispatcher.Dispatch(msg); err != nil {
			return fmt.Errorf("streaming: actor %d dispatch: %w", a.ID, err)
		}
		if stopping {
			a.logger.Info().Uint64("epoch", msg.Barrier.Epoch).Msg("actor draining after stop mutation")
			return nil
		}
	}
}

// Merge combines several Inputs into one aligned stream of Messages: each
// Next call returns either the next buffered/pass-through chunk or the
// next fully-aligned barrier. Stateless pass-through executors (filter,
// project) wrap a Merge directly; stateful executors (join, agg) consult
// their own state between calls.
type Merge struct {
	aligner *Aligner
	queue   []Message
}

// NewMerge constructs a Merge over the given upstream inputs.
func NewMerge(inputs []Input) *Merge {
	return &Merge{aligner: NewAligner(inputs)}
}

func (m *Merge) Next(ctx context.Context) (Message, bool, error) {
	for len(m.queue) == 0 {
		pending, barrier, err := m.aligner.Next(ctx)
		if err != nil {
			return Message{}, false, err
		}
		if barrier != nil {
			m.queue = append(pending, BarrierMessage(barrier))
			break
		}
		m.queue = pending
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true, nil
}
