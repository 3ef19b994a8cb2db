package billing

import "sync"

// StateFlow holds the latest value of some state and broadcasts changes.
// Subscribers that attach late immediately receive the latest value.
// A slow subscriber only ever sees the most recent value.
type StateFlow[T any] struct {
	mu       sync.Mutex
	value    T
	hasValue bool
	nextID   int
	subs     map[int]chan T
}

// NewStateFlow returns a flow with no value yet.
func NewStateFlow[T any]() *StateFlow[T] {
	return &StateFlow[T]{subs: make(map[int]chan T)}
}

// NewStateFlowOf returns a flow seeded with initial.
func NewStateFlowOf[T any](initial T) *StateFlow[T] {
	f := NewStateFlow[T]()
	f.value = initial
	f.hasValue = true
	return f
}

// Value returns the latest value and whether one was ever published.
func (f *StateFlow[T]) Value() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.hasValue
}

// Publish stores v and delivers it to every subscriber.
func (f *StateFlow[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
	f.hasValue = true
	for _, ch := range f.subs {
		offerLatest(ch, v)
	}
}

// Subscribe returns a channel of values and a cancel func that closes it.
func (f *StateFlow[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	if f.hasValue {
		ch <- f.value
	}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			close(ch)
			f.mu.Unlock()
		})
	}
	return ch, cancel
}

// offerLatest replaces whatever is buffered in ch with v. Callers hold the
// flow lock, so nobody else sends on ch concurrently.
func offerLatest[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
