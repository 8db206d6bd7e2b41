// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// dedupWindow remembers the most recent envelope ids. Not safe for
// concurrent use.
type dedupWindow struct {
	seen  map[string]struct{}
	order []string
	next  int
}

func newDedupWindow(size int) *dedupWindow {
	if size <= 0 {
		size = 1
	}
	return &dedupWindow{
		seen:  make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// observe records id and reports whether it was not already in the
// window. The oldest id is forgotten once the window is full.
func (w *dedupWindow) observe(id []byte) bool {
	key := string(id)
	if _, duplicate := w.seen[key]; duplicate {
		return false
	}
	if evicted := w.order[w.next]; evicted != "" {
		delete(w.seen, evicted)
	}
	w.order[w.next] = key
	w.next = (w.next + 1) % len(w.order)
	w.seen[key] = struct{}{}
	return true
}
