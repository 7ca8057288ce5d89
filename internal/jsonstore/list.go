package jsonstore

import (
	"sync"

	"go.uber.org/zap"
)

// List is a bounded, ordered collection persisted as a JSON array. Insertion
// order is preserved; appending past capacity evicts the oldest items.
type List[T any] struct {
	mu       sync.RWMutex
	path     string
	capacity int
	items    []T
	log      *zap.Logger
}

// OpenList loads path into a new list. A zero capacity means unbounded.
func OpenList[T any](path string, capacity int, log *zap.Logger) (*List[T], error) {
	l := &List[T]{path: path, capacity: capacity, log: log}
	if err := l.Load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the backing file.
func (l *List[T]) Path() string { return l.path }

// Load replaces the in-memory items with the file contents.
func (l *List[T]) Load() error {
	var items []T
	if _, err := Read(l.path, &items, l.log); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = l.trim(items)
	return nil
}

// Save writes a consistent snapshot of the items.
func (l *List[T]) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := l.items
	if items == nil {
		items = []T{}
	}
	return WriteAtomic(l.path, items)
}

// Items returns a copy of the items in insertion order.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Replace swaps the in-memory items without saving.
func (l *List[T]) Replace(items []T) {
	cp := make([]T, len(items))
	copy(cp, items)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = l.trim(cp)
}

// Append adds item at the end without saving.
func (l *List[T]) Append(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = l.trim(append(l.items, item))
}

// Find returns the first item matching pred.
func (l *List[T]) Find(pred func(T) bool) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, it := range l.items {
		if pred(it) {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// Update applies fn to the first item matching pred, without saving.
func (l *List[T]) Update(pred func(T) bool, fn func(*T) error) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if pred(l.items[i]) {
			next := l.items[i]
			if err := fn(&next); err != nil {
				return true, err
			}
			l.items[i] = next
			return true, nil
		}
	}
	return false, nil
}

// UpdateAll applies fn to every item, without saving.
func (l *List[T]) UpdateAll(fn func(*T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		fn(&l.items[i])
	}
}

// Delete removes every item matching pred and reports how many went.
func (l *List[T]) Delete(pred func(T) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.items[:0]
	removed := 0
	for _, it := range l.items {
		if pred(it) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	l.items = kept
	return removed
}

// Len returns the number of items.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *List[T]) trim(items []T) []T {
	if l.capacity > 0 && len(items) > l.capacity {
		items = append([]T(nil), items[len(items)-l.capacity:]...)
	}
	return items
}
