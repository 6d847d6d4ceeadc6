package chat

import "time"

// orderedList is an id-deduplicated list kept in non-decreasing timestamp
// order, with ties broken by arrival. Upserting an id that is already present
// replaces the entry in place and never reorders. This is the single merge
// primitive behind message caches, channel lists and pinned subsets, and is
// what makes the optimistic write followed by the socket echo of the same id
// collapse into one entry.
type orderedList[T any] struct {
	items []T
	index map[string]int
	idOf  func(T) string
	tsOf  func(T) time.Time
}

func newOrderedList[T any](idOf func(T) string, tsOf func(T) time.Time) *orderedList[T] {
	return &orderedList[T]{
		index: make(map[string]int),
		idOf:  idOf,
		tsOf:  tsOf,
	}
}

// upsert merges one item. Returns true when the item was newly inserted,
// false when an entry with the same id was replaced in place.
func (l *orderedList[T]) upsert(item T) bool {
	id := l.idOf(item)
	if pos, ok := l.index[id]; ok {
		l.items[pos] = item
		return false
	}

	ts := l.tsOf(item)
	// Insert after the last entry with timestamp <= ts so equal timestamps
	// keep arrival order.
	pos := len(l.items)
	for pos > 0 && l.tsOf(l.items[pos-1]).After(ts) {
		pos--
	}

	l.items = append(l.items, item)
	copy(l.items[pos+1:], l.items[pos:])
	l.items[pos] = item
	l.reindexFrom(pos)
	return true
}

func (l *orderedList[T]) remove(id string) bool {
	pos, ok := l.index[id]
	if !ok {
		return false
	}
	l.items = append(l.items[:pos], l.items[pos+1:]...)
	delete(l.index, id)
	l.reindexFrom(pos)
	return true
}

func (l *orderedList[T]) get(id string) (T, bool) {
	var zero T
	pos, ok := l.index[id]
	if !ok {
		return zero, false
	}
	return l.items[pos], true
}

// update mutates the entry with the given id in place, preserving position.
func (l *orderedList[T]) update(id string, fn func(*T)) bool {
	pos, ok := l.index[id]
	if !ok {
		return false
	}
	fn(&l.items[pos])
	return true
}

func (l *orderedList[T]) contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

func (l *orderedList[T]) len() int {
	return len(l.items)
}

// snapshot returns a copy; callers can hold it across further mutations.
func (l *orderedList[T]) snapshot() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

func (l *orderedList[T]) reindexFrom(pos int) {
	for i := pos; i < len(l.items); i++ {
		l.index[l.idOf(l.items[i])] = i
	}
}
