package streaming

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// ErrBarrierEpochRegression is returned when an input delivers a barrier
// whose epoch does not strictly increase over the last one seen on that
// input.
var ErrBarrierEpochRegression = errors.New("streaming: barrier epoch did not strictly increase on input")

// Input is one upstream channel an actor reads Messages from.
type Input <-chan Message

// Aligner aligns barriers across its inputs. Chunks pass straight through
// until some input delivers the next barrier; from then on that input is
// not read, and chunks still arriving from the other inputs are buffered
// until every input has delivered the barrier. The buffered chunks are then
// returned ahead of the barrier, in arrival order. Across inputs only
// barriers are ordered; chunk order between distinct inputs is unspecified.
type Aligner struct {
	inputs    []Input
	lastEpoch []uint64
}

// NewAligner constructs an Aligner over the given ordered set of inputs.
func NewAligner(inputs []Input) *Aligner {
	return &Aligner{inputs: inputs, lastEpoch: make([]uint64, len(inputs))}
}

// Next blocks until either a chunk is available on any input (returned
// immediately as a single-element slice) or every input has delivered a
// barrier of the same epoch (returned after alignment, with all chunks
// buffered during alignment replayed first). It is the single entry point
// an actor's run loop calls once per output message.
func (a *Aligner) Next(ctx context.Context) (pending []Message, barrier *Barrier, err error) {
	if len(a.inputs) == 0 {
		return nil, nil, fmt.Errorf("streaming: aligner has no inputs, nothing to align")
	}

	barrierSeen := make([]bool, len(a.inputs))
	var buffered []Message
	var epoch uint64
	remaining := len(a.inputs)

	for remaining > 0 {
		msg, idx, err := a.recvAny(ctx, barrierSeen)
		if err != nil {
			return nil, nil, err
		}
		if msg.IsBarrier() {
			if err := a.checkEpoch(idx, msg.Barrier.Epoch); err != nil {
				return nil, nil, err
			}
			if epoch == 0 {
				epoch = msg.Barrier.Epoch
			} else if msg.Barrier.Epoch != epoch {
				return nil, nil, fmt.Errorf("streaming: input %d barrier epoch %d does not match aligning epoch %d", idx, msg.Barrier.Epoch, epoch)
			}
			barrierSeen[idx] = true
			remaining--
			if remaining == 0 {
				return buffered, msg.Barrier, nil
			}
			continue
		}
		if remaining == len(a.inputs) {
			// No barrier has started aligning yet on any input: pass the
			// chunk straight through instead of buffering it.
			return []Message{msg}, nil, nil
		}
		buffered = append(buffered, msg)
	}
	return buffered, nil, nil
}

// recvAny receives the next message from any input that has not yet
// delivered the in-flight barrier, preserving per-input order (invariant
// (a)). A plain select can't range over a dynamic case list, so this uses
// reflect.Select the way the exchange merge operator needs to for the same
// dynamic fan-in reason.
func (a *Aligner) recvAny(ctx context.Context, barrierSeen []bool) (Message, int, error) {
	cases := make([]reflect.SelectCase, 0, len(a.inputs)+1)
	idxOf := make([]int, 0, len(a.inputs))
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for i, in := range a.inputs {
		if !barrierSeen[i] {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(in)})
			idxOf = append(idxOf, i)
		}
	}
	chosen, recv, ok := reflect.Select(cases)
	if chosen == 0 {
		return Message{}, 0, ctx.Err()
	}
	idx := idxOf[chosen-1]
	if !ok {
		return Message{}, idx, fmt.Errorf("streaming: input %d closed", idx)
	}
	return recv.Interface().(Message), idx, nil
}

func (a *Aligner) checkEpoch(idx int, epoch uint64) error {
	if epoch <= a.lastEpoch[idx] {
		return fmt.Errorf("%w: input %d epoch %d <= last seen %d", ErrBarrierEpochRegression, idx, epoch, a.lastEpoch[idx])
	}
	a.lastEpoch[idx] = epoch
	return nil
}
