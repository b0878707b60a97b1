package cache

// history keeps the most recent finished WriteRecords in a fixed ring.
// Callers hold Coordinator.mu.
type history struct {
	items []WriteRecord
	next  int
	full  bool
}

func newHistory(size int) *history {
	if size <= 0 {
		return &history{}
	}
	return &history{items: make([]WriteRecord, size)}
}

func (h *history) add(rec WriteRecord) {
	if len(h.items) == 0 {
		return
	}
	h.items[h.next] = rec
	h.next = (h.next + 1) % len(h.items)
	if h.next == 0 {
		h.full = true
	}
}

// recent returns up to limit records, newest first. limit <= 0 means all.
func (h *history) recent(limit int) []WriteRecord {
	count := h.next
	if h.full {
		count = len(h.items)
	}
	if limit <= 0 || limit > count {
		limit = count
	}
	out := make([]WriteRecord, 0, limit)
	idx := h.next
	for i := 0; i < limit; i++ {
		idx--
		if idx < 0 {
			idx = len(h.items) - 1
		}
		out = append(out, h.items[idx])
	}
	return out
}
