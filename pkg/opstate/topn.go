package opstate

import (
	"fmt"

	"github.com/google/btree"

	"github.com/cascadedb/cascade/pkg/common"
)

// topNItem is one row keyed by its ORDER BY projection, ordered by
// common.CompareRow so the B-tree's natural iteration order is the query's
// output order. tiebreak disambiguates rows that share an order key (ties,
// or a degenerate ORDER BY) so they don't collide into a single B-tree slot;
// it has no bearing on output order, which is by key alone.
type topNItem struct {
	key      common.Row
	ot       []common.OrderType
	row      common.Row
	tiebreak string
}

func (a topNItem) Less(than btree.Item) bool {
	b := than.(topNItem)
	if c := common.CompareRow(a.key, b.key, a.ot); c != 0 {
		return c < 0
	}
	return a.tiebreak < b.tiebreak
}

// highCacheFactor sizes the high tier relative to offset+limit, giving the
// cache enough runway to absorb deletes from middle without an immediate
// state-table refill.
const highCacheFactor = 2

// TopNCache maintains the answer to an OFFSET/LIMIT query over the rows
// seen so far, split into three tiers: low holds the first offset rows
// (skipped by the query but needed so a delete below the answer shifts it
// correctly), middle holds the current answer (rows [offset,
// offset+limit)), and high holds the next highCacheFactor*(offset+limit)
// candidates, ready to be promoted when a delete pulls rows up. withTies
// extends the middle tier to include every row tied with the last
// (limit-th) row, per `FETCH FIRST n ROWS WITH TIES` semantics.
type TopNCache struct {
	offset   int
	limit    int
	withTies bool
	ot       []common.OrderType

	low    *btree.BTree
	middle *btree.BTree
	high   *btree.BTree
}

// NewTopNCache returns an empty cache ordered by ot, skipping the first
// offset rows and answering with the next limit rows (or limit plus ties,
// if withTies — which requires offset zero).
func NewTopNCache(offset, limit int, withTies bool, ot []common.OrderType) (*TopNCache, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("opstate: top-N needs offset >= 0 and limit > 0, got %d/%d", offset, limit)
	}
	if withTies && offset != 0 {
		return nil, fmt.Errorf("opstate: WITH TIES requires offset 0, got %d", offset)
	}
	return &TopNCache{
		offset:   offset,
		limit:    limit,
		withTies: withTies,
		ot:       ot,
		low:      btree.New(32),
		middle:   btree.New(32),
		high:     btree.New(32),
	}, nil
}

func (c *TopNCache) item(key, row common.Row) topNItem {
	return topNItem{key: key, ot: c.ot, row: row, tiebreak: fmt.Sprintf("%v", row.Values)}
}

func (c *TopNCache) lowFull() bool {
	return c.low.Len() >= c.offset
}

func (c *TopNCache) middleFull() bool {
	return c.middle.Len() >= c.limit
}

func (c *TopNCache) highFull() bool {
	return c.high.Len() >= (c.offset+c.limit)*highCacheFactor
}

// Insert adds one row under orderKey. added lists rows that entered the
// middle tier (the answer); displaced lists rows the insert pushed out of
// middle — together they are the delta a downstream consumer of the top-N
// answer must apply. A row absorbed by low or high yields an empty delta.
func (c *TopNCache) Insert(orderKey, row common.Row) (added, displaced []common.Row) {
	item := c.item(orderKey, row)

	// The insert flows down: a row small enough for the low tier lands
	// there and the row it displaces out of low cascades into middle.
	if c.offset > 0 {
		if !c.lowFull() {
			c.low.ReplaceOrInsert(item)
			return nil, nil
		}
		lowMax := c.low.Max().(topNItem)
		if item.Less(lowMax) {
			c.low.Delete(lowMax)
			c.low.ReplaceOrInsert(item)
			item = lowMax
		}
	}
	return c.insertMiddle(item)
}

// insertMiddle places item into the middle tier if it beats the cutoff,
// spilling whatever no longer belongs there into high.
func (c *TopNCache) insertMiddle(item topNItem) (added, displaced []common.Row) {
	row := item.row

	if !c.middleFull() {
		c.middle.ReplaceOrInsert(item)
		return []common.Row{row}, nil
	}

	last := c.middle.Max().(topNItem)
	if common.CompareRow(item.key, last.key, c.ot) >= 0 {
		// doesn't beat the current tier: it belongs in high, unless
		// WITH_TIES and it ties the cutoff, in which case it belongs in
		// middle too.
		if c.withTies && common.CompareRow(item.key, last.key, c.ot) == 0 {
			c.middle.ReplaceOrInsert(item)
			return []common.Row{row}, nil
		}
		if !c.highFull() {
			c.high.ReplaceOrInsert(item)
		}
		return nil, nil
	}

	// item beats the current cutoff: it enters middle, and whatever no
	// longer belongs there moves to high. Under WITH_TIES "belongs there"
	// means the top limit rows plus the tie class of the limit-th row, so
	// a displaced tie class slides out wholesale.
	c.middle.ReplaceOrInsert(item)
	added = append(added, row)

	for _, t := range c.overflowing() {
		c.middle.Delete(t)
		displaced = append(displaced, t.row)
		if !c.highFull() {
			c.high.ReplaceOrInsert(t)
		}
	}
	return added, displaced
}

// overflowing returns the middle-tier items past the retention boundary:
// position limit and beyond, except that under WITH_TIES rows tied with
// the limit-th row stay.
func (c *TopNCache) overflowing() []topNItem {
	var cutoff common.Row
	i := 0
	c.middle.Ascend(func(it btree.Item) bool {
		i++
		if i == c.limit {
			cutoff = it.(topNItem).key
			return false
		}
		return true
	})
	var out []topNItem
	i = 0
	c.middle.Ascend(func(it btree.Item) bool {
		i++
		if i <= c.limit {
			return true
		}
		t := it.(topNItem)
		if c.withTies && common.CompareRow(t.key, cutoff, c.ot) == 0 {
			return true
		}
		out = append(out, t)
		return true
	})
	return out
}

// Delete removes the row keyed by orderKey, pulling up from higher tiers
// to restore the tier boundaries: a delete from low pulls the smallest
// middle row down into low (it leaves the answer), and a middle vacancy
// pulls the smallest high row up (it enters the answer). A delete that
// only shrinks a WITH_TIES extension promotes nothing. needsRefill is true
// when a middle backfill was due but high was empty (the caller must
// rescan the state table, since the cache alone can't know what comes
// next).
func (c *TopNCache) Delete(orderKey, row common.Row) (removed, promoted []common.Row, needsRefill bool) {
	item := c.item(orderKey, row)

	if c.offset > 0 && c.low.Delete(item) != nil {
		if c.middle.Len() > 0 {
			pulled := c.middle.DeleteMin().(topNItem)
			c.low.ReplaceOrInsert(pulled)
			removed = append(removed, pulled.row)
			promoted, needsRefill = c.backfillMiddle()
		} else if c.high.Len() > 0 {
			c.low.ReplaceOrInsert(c.high.DeleteMin().(topNItem))
		}
		return removed, promoted, needsRefill
	}

	if c.middle.Delete(item) != nil {
		removed = append(removed, row)
		if c.middle.Len() >= c.limit {
			return removed, nil, false
		}
		promoted, needsRefill = c.backfillMiddle()
		return removed, promoted, needsRefill
	}
	c.high.Delete(item)
	return nil, nil, false
}

// backfillMiddle promotes the smallest high row into a middle vacancy,
// reporting needsRefill when high has nothing to give.
func (c *TopNCache) backfillMiddle() (promoted []common.Row, needsRefill bool) {
	if c.middle.Len() >= c.limit {
		return nil, false
	}
	if c.high.Len() > 0 {
		p := c.high.DeleteMin().(topNItem)
		c.middle.ReplaceOrInsert(p)
		return []common.Row{p.row}, false
	}
	return nil, true
}

// Rows returns the current middle-tier rows in order, the cache's answer to
// the top-N query right now.
func (c *TopNCache) Rows() []common.Row {
	var out []common.Row
	c.middle.Ascend(func(i btree.Item) bool {
		out = append(out, i.(topNItem).row)
		return true
	})
	return out
}

// LowLen reports how many rows are currently in the low tier; it never
// exceeds the configured offset.
func (c *TopNCache) LowLen() int { return c.low.Len() }

// MiddleLen reports how many rows are currently in the middle tier.
func (c *TopNCache) MiddleLen() int { return c.middle.Len() }

// HighLen reports how many rows are currently in the high tier.
func (c *TopNCache) HighLen() int { return c.high.Len() }
