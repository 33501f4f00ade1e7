package chainexport

import (
	"github.com/tidwall/btree"
)

// batchResult is a run of consecutive positions [start, end] together with
// the records fetched for them, in position order.
type batchResult struct {
	start   uint64
	end     uint64
	records []Record
}

func byBatchStart(a, b interface{}) bool {
	return a.(*batchResult).start < b.(*batchResult).start
}

// orderBuffer holds batches that completed out of order and releases them
// once every earlier batch has been released. It is owned by a single
// goroutine.
type orderBuffer struct {
	pending *btree.BTree
	next    uint64
}

func newOrderBuffer(first uint64) *orderBuffer {
	return &orderBuffer{
		pending: btree.NewNonConcurrent(byBatchStart),
		next:    first,
	}
}

// Put buffers batch and returns, in order, every batch that is now
// contiguous with what has already been released.
func (b *orderBuffer) Put(batch *batchResult) []*batchResult {
	b.pending.Set(batch)

	var ready []*batchResult
	for {
		item := b.pending.Get(&batchResult{start: b.next})
		if item == nil {
			return ready
		}
		b.pending.Delete(item)

		res := item.(*batchResult)
		ready = append(ready, res)
		b.next = res.end + 1
	}
}

// Len returns the number of batches waiting for a predecessor.
func (b *orderBuffer) Len() int {
	return b.pending.Len()
}
