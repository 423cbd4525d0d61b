// Package sharedlist provides an intrusive doubly linked list whose forward
// links own the chain: each element's hook holds the only list reference to
// its successor, while back links are bare pointers cleared on unlink. The
// list tracks its size, supports O(1) insertion at the front and O(1)
// deletion by value, and clears iteratively so that tearing down a long
// chain never nests.
package sharedlist

// Hook is the link pair embedded in values stored in a List. The zero value
// is an unlinked hook.
type Hook[T any] struct {
	prev *T
	next *T
}

// Linked reports whether the hook is currently part of a list. The front
// element of a single-item list has nil neighbors, so membership of such an
// element cannot be detected through its hook alone.
func (h *Hook[T]) Linked() bool {
	return h.prev != nil || h.next != nil
}

// List is an intrusive list of *T with O(1) PushFront, O(1) PushBack, O(1)
// Erase by value and O(1) Size. List is not safe for concurrent use; callers
// serialize access.
type List[T any] struct {
	hook  func(*T) *Hook[T]
	front *T
	back  *T
	size  int
}

// New creates an empty List. The hook accessor returns the address of the
// Hook embedded in a value.
//
// Parameters:
//   - hook: Accessor from a value to its embedded Hook
//
// Returns:
//   - A pointer to a new empty List
func New[T any](hook func(*T) *Hook[T]) *List[T] {
	return &List[T]{hook: hook}
}

// Front returns the first element of the list, or nil if the list is empty.
func (l *List[T]) Front() *T {
	return l.front
}

// Back returns the last element of the list, or nil if the list is empty.
func (l *List[T]) Back() *T {
	return l.back
}

// Prev returns the element before v in the list, or nil if v is the front.
func (l *List[T]) Prev(v *T) *T {
	return l.hook(v).prev
}

// Next returns the element after v in the list, or nil if v is the back.
func (l *List[T]) Next(v *T) *T {
	return l.hook(v).next
}

// PushFront links v at the front of the list. v's hook must be unlinked;
// pushing a value that is already part of a list panics.
//
// Parameters:
//   - v: The value to link; must not be nil
func (l *List[T]) PushFront(v *T) {
	h := l.hook(v)
	if h.Linked() {
		panic("sharedlist: push of linked value")
	}

	h.next = l.front
	if l.front != nil {
		l.hook(l.front).prev = v
	}

	l.front = v
	if l.back == nil {
		l.back = v
	}
	l.size++
}

// PushBack links v at the back of the list. v's hook must be unlinked;
// pushing a value that is already part of a list panics.
//
// Parameters:
//   - v: The value to link; must not be nil
func (l *List[T]) PushBack(v *T) {
	h := l.hook(v)
	if h.Linked() {
		panic("sharedlist: push of linked value")
	}

	h.prev = l.back
	if l.back != nil {
		l.hook(l.back).next = v
	}

	l.back = v
	if l.front == nil {
		l.front = v
	}
	l.size++
}

// Erase unlinks v from the list, repairing its neighbors and leaving v's
// hook unlinked. Erasing a value that is not in this list corrupts the list.
//
// Parameters:
//   - v: The value to unlink; must not be nil
func (l *List[T]) Erase(v *T) {
	h := l.hook(v)
	if v == l.front {
		l.front = h.next
	}
	if v == l.back {
		l.back = h.prev
	}
	if h.prev != nil {
		l.hook(h.prev).next = h.next
	}
	if h.next != nil {
		l.hook(h.next).prev = h.prev
	}

	h.prev = nil
	h.next = nil
	l.size--
}

// PopFront unlinks and returns the first element. Popping an empty list
// panics.
//
// Returns:
//   - The former front element, with its hook unlinked
func (l *List[T]) PopFront() *T {
	if l.front == nil {
		panic("sharedlist: pop from empty list")
	}

	v := l.front
	h := l.hook(v)
	l.front = h.next
	if l.front != nil {
		l.hook(l.front).prev = nil
	} else {
		l.back = nil
	}

	h.prev = nil
	h.next = nil
	l.size--
	return v
}

// PopBack unlinks and returns the last element. Popping an empty list
// panics.
//
// Returns:
//   - The former back element, with its hook unlinked
func (l *List[T]) PopBack() *T {
	if l.back == nil {
		panic("sharedlist: pop from empty list")
	}

	v := l.back
	h := l.hook(v)
	l.back = h.prev
	if l.back != nil {
		l.hook(l.back).next = nil
	} else {
		l.front = nil
	}

	h.prev = nil
	h.next = nil
	l.size--
	return v
}

// Swap exchanges the contents of the two lists. Each chain keeps its own
// internal links, so forward edges keep owning their successors and back
// edges stay bare. Both lists must use the same hook accessor.
//
// Parameters:
//   - other: The list to exchange contents with
func (l *List[T]) Swap(other *List[T]) {
	l.front, other.front = other.front, l.front
	l.back, other.back = other.back, l.back
	l.size, other.size = other.size, l.size
}

// SpliceFront transfers all elements of other to the front of this list,
// preserving their order and leaving other empty. The only link touched is
// the seam: other's back gains this list's old front as its successor, and
// the old front's bare back pointer is repaired. Both lists must use the
// same hook accessor.
//
// Parameters:
//   - other: The list to drain; empty afterwards
func (l *List[T]) SpliceFront(other *List[T]) {
	if other.Empty() {
		return
	}

	if l.Empty() {
		l.front = other.front
		l.back = other.back
	} else {
		l.hook(other.back).next = l.front
		l.hook(l.front).prev = other.back
		l.front = other.front
	}
	l.size += other.size

	other.front = nil
	other.back = nil
	other.size = 0
}

// SpliceBack transfers all elements of other to the back of this list,
// preserving their order and leaving other empty. Both lists must use the
// same hook accessor.
//
// Parameters:
//   - other: The list to drain; empty afterwards
func (l *List[T]) SpliceBack(other *List[T]) {
	if other.Empty() {
		return
	}

	if l.Empty() {
		l.front = other.front
		l.back = other.back
	} else {
		l.hook(l.back).next = other.front
		l.hook(other.front).prev = l.back
		l.back = other.back
	}
	l.size += other.size

	other.front = nil
	other.back = nil
	other.size = 0
}

// Clear unlinks every element, leaving each hook unlinked and the list
// empty. Elements are detached one at a time from the front so the depth of
// the teardown does not grow with the length of the chain.
func (l *List[T]) Clear() {
	for l.front != nil {
		h := l.hook(l.front)
		next := h.next
		h.prev = nil
		h.next = nil
		l.front = next
	}
	l.back = nil
	l.size = 0
}

// Size returns the number of elements in the list.
func (l *List[T]) Size() int {
	return l.size
}

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool {
	return l.size == 0
}
