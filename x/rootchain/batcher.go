package rootchain

import (
	"github.com/ethereum/go-ethereum/common"
)

// requestQueue is one request id space with its request blocks. The last
// request block is always the open one: its id is known before any request
// lands in it.
type requestQueue struct {
	kind     RequestKind
	max      uint64
	requests []*Request
	blocks   []*RequestBlock
	next     uint64 // lowest unfinalized request id
	unplaced uint64 // lowest request block id not yet carried by a plasma block (ERU)
}

func newRequestQueue(kind RequestKind, max uint64) *requestQueue {
	q := &requestQueue{kind: kind, max: max}
	q.blocks = append(q.blocks, &RequestBlock{ID: 0, Kind: kind})
	return q
}

func (q *requestQueue) open() *RequestBlock {
	return q.blocks[len(q.blocks)-1]
}

// sealedCount is the number of request blocks whose range is fixed.
func (q *requestQueue) sealedCount() uint64 {
	return uint64(len(q.blocks) - 1)
}

func (q *requestQueue) request(id uint64) *Request {
	if id >= uint64(len(q.requests)) {
		return nil
	}
	return q.requests[id]
}

func (q *requestQueue) block(id uint64) *RequestBlock {
	if id >= uint64(len(q.blocks)) {
		return nil
	}
	return q.blocks[id]
}

func (q *requestQueue) nextID() uint64 {
	return uint64(len(q.requests))
}

// add appends req to the open request block.
func (q *requestQueue) add(req *Request) {
	rb := q.open()
	req.ID = q.nextID()
	req.Kind = q.kind
	req.RequestBlockID = rb.ID
	if rb.NumEnter == 0 {
		rb.RequestStart = req.ID
	}
	rb.RequestEnd = req.ID
	rb.NumEnter++
	q.requests = append(q.requests, req)
}

// seal fixes the open request block and pre-seals the next one.
func (q *requestQueue) seal(root func([]common.Hash) common.Hash) *RequestBlock {
	rb := q.open()
	hashes := make([]common.Hash, 0, rb.NumEnter)
	for id := rb.RequestStart; rb.NumEnter > 0 && id <= rb.RequestEnd; id++ {
		hashes = append(hashes, q.requests[id].ContentHash)
	}
	rb.TrieRoot = root(hashes)
	rb.Sealed = true

	q.blocks = append(q.blocks, &RequestBlock{
		ID:           rb.ID + 1,
		Kind:         q.kind,
		RequestStart: q.nextID(),
	})
	return rb
}

// sealIfFull seals the open request block once it holds max requests.
func (q *requestQueue) sealIfFull(root func([]common.Hash) common.Hash) (*RequestBlock, bool) {
	if q.open().NumEnter < q.max {
		return nil, false
	}
	return q.seal(root), true
}

// hasChallengedPending reports whether request blocks from..to hold a
// challenged request that is not finalized yet.
func (q *requestQueue) hasChallengedPending(from, to uint64) bool {
	for id := from; id <= to; id++ {
		rb := q.blocks[id]
		if rb.NumEnter == 0 {
			continue
		}
		for r := rb.RequestStart; r <= rb.RequestEnd; r++ {
			if req := q.requests[r]; req.Challenged && !req.Finalized {
				return true
			}
		}
	}
	return false
}

// span returns the first request id held by request blocks from..to and how
// many requests they hold. Request ids are contiguous across blocks.
func (q *requestQueue) span(from, to uint64) (start, count uint64) {
	start = q.blocks[from].RequestStart
	for id := from; id <= to; id++ {
		count += q.blocks[id].NumEnter
	}
	return start, count
}
