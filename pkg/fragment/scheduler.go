package fragment

import (
	"fmt"

	"github.com/cascadedb/cascade/pkg/bitmap"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// ParallelUnit is a logical execution slot a compute worker hosts. Actors
// bind to parallel units, not directly to workers, so rebalancing can move
// a parallel unit's actor without reshuffling the keyspace.
type ParallelUnit struct {
	ID       uint32
	WorkerID string
	Single   bool // reserved for singleton fragments
}

// Actor is one parallel instance of a fragment, placed on a ParallelUnit.
type Actor struct {
	ID           uint32
	FragmentID   uint32
	ParallelUnit uint32
	VnodeBitmap  *bitmap.Bitmap // nil for a singleton fragment's actor
}

// Placement is the scheduler's output: every actor of every fragment, plus
// the vnode mapping for each hash-distributed fragment (needed by the
// dispatcher wiring that routes rows between actors).
type Placement struct {
	Actors   []Actor
	Mappings map[uint32]streaming.VnodeMapping // fragment id -> vnode mapping, hash fragments only
}

// Scheduler assigns fragment actors to parallel units.
type Scheduler struct {
	vnodeCount      int
	singlePool      []ParallelUnit
	hashPool        []ParallelUnit
	nextActorID     uint32
	singleRoundRobin int
}

// NewScheduler returns a Scheduler over the given pools of parallel units.
func NewScheduler(vnodeCount int, singlePool, hashPool []ParallelUnit) *Scheduler {
	return &Scheduler{vnodeCount: vnodeCount, singlePool: singlePool, hashPool: hashPool, nextActorID: 1}
}

// Schedule places every actor for the given fragments, in order. A
// singleton fragment (DistSingle) round-robins across the single-unit pool,
// unless it's flagged SameWorkerAsUpstream, in which case it reuses its
// upstream fragment's sole parallel unit. A hash fragment takes every hash
// parallel unit, builds a round-robin vnode mapping across them, and gives
// each actor the vnode bitmap its parallel unit owns — the union of which
// covers the full vnode set exactly once.
func (s *Scheduler) Schedule(fragments []*Fragment) (Placement, error) {
	placement := Placement{Mappings: make(map[uint32]streaming.VnodeMapping)}
	unitOfFragment := make(map[uint32]uint32) // fragment id -> the parallel unit its (singleton) actor landed on

	for _, frag := range fragments {
		switch frag.Distribution {
		case DistSingle:
			unit, err := s.placeSingleton(frag, unitOfFragment)
			if err != nil {
				return Placement{}, err
			}
			placement.Actors = append(placement.Actors, Actor{
				ID: s.allocActorID(), FragmentID: frag.ID, ParallelUnit: unit.ID,
			})
			unitOfFragment[frag.ID] = unit.ID
		case DistHash:
			if len(s.hashPool) == 0 {
				return Placement{}, fmt.Errorf("fragment: no hash parallel units available for fragment %d", frag.ID)
			}
			actorIDs := make([]uint32, len(s.hashPool))
			for i := range s.hashPool {
				actorIDs[i] = s.allocActorID()
			}
			mapping := buildRoundRobinMapping(s.vnodeCount, s.hashPool, actorIDs)
			placement.Mappings[frag.ID] = mapping.vnodeMapping
			for i, unit := range s.hashPool {
				placement.Actors = append(placement.Actors, Actor{
					ID: actorIDs[i], FragmentID: frag.ID, ParallelUnit: unit.ID,
					VnodeBitmap: mapping.bitmaps[unit.ID],
				})
			}
		default:
			return Placement{}, fmt.Errorf("fragment: unknown distribution type %v for fragment %d", frag.Distribution, frag.ID)
		}
	}
	return placement, nil
}

func (s *Scheduler) allocActorID() uint32 {
	id := s.nextActorID
	s.nextActorID++
	return id
}

func (s *Scheduler) placeSingleton(frag *Fragment, unitOfFragment map[uint32]uint32) (ParallelUnit, error) {
	if frag.SameWorkerAsUpstream && len(frag.Upstreams) > 0 {
		if unitID, ok := unitOfFragment[frag.Upstreams[0]]; ok {
			for _, u := range s.singlePool {
				if u.ID == unitID {
					return u, nil
				}
			}
		}
	}
	if len(s.singlePool) == 0 {
		return ParallelUnit{}, fmt.Errorf("fragment: no singleton parallel units available for fragment %d", frag.ID)
	}
	unit := s.singlePool[s.singleRoundRobin%len(s.singlePool)]
	s.singleRoundRobin++
	return unit, nil
}

type rrMapping struct {
	vnodeMapping streaming.VnodeMapping
	bitmaps      map[uint32]*bitmap.Bitmap // parallel unit id -> owned vnode bitmap
}

func buildRoundRobinMapping(vnodeCount int, units []ParallelUnit, actorIDs []uint32) rrMapping {
	builders := make(map[uint32]*bitmap.Builder, len(units))
	for _, u := range units {
		builders[u.ID] = bitmap.Zeroed(vnodeCount)
	}
	var m streaming.VnodeMapping
	var owner uint32
	for v := 0; v < vnodeCount; v++ {
		i := v % len(units)
		cur := actorIDs[i]
		curUnit := units[i].ID
		if v == 0 {
			owner = cur
		} else if cur != owner {
			m.Original = append(m.Original, uint32(v-1))
			m.Actor = append(m.Actor, owner)
			owner = cur
		}
		builders[curUnit].Set(v, true)
	}
	m.Original = append(m.Original, uint32(vnodeCount-1))
	m.Actor = append(m.Actor, owner)
	bitmaps := make(map[uint32]*bitmap.Bitmap, len(units))
	for id, bld := range builders {
		bitmaps[id] = bld.Finish()
	}
	return rrMapping{vnodeMapping: m, bitmaps: bitmaps}
}
