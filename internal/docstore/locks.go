package docstore

import "sync"

const lockStripes = 64

// itemLocks serialises in-process writers of the same item_id. Distinct items
// may share a stripe; that only costs parallelism.
type itemLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *itemLocks) lock(itemID int64) func() {
	m := &l.stripes[uint64(itemID)%lockStripes]
	m.Lock()
	return m.Unlock
}
