// Package intrusivelist provides doubly and singly linked lists whose link
// fields live inside the stored values themselves. Linking and unlinking
// never allocate, and erasing an element is O(1) given the element. The
// container obtains a value's embedded Hook through an accessor supplied at
// construction time.
package intrusivelist

// Hook is the doubly-linked link pair embedded in values stored in a List.
// The zero value is an unlinked hook.
type Hook[T any] struct {
	prev *T
	next *T
}

// Linked reports whether the hook is currently part of a list.
// A lone element of a single-item list has nil neighbors, so membership of
// such an element cannot be detected through its hook alone.
//
// Returns:
//   - true if either neighbor pointer is set, false otherwise
func (h *Hook[T]) Linked() bool {
	return h.prev != nil || h.next != nil
}

// List is a doubly linked intrusive list of *T. All operations are O(1)
// except Clear, which unlinks every element. List is not safe for concurrent
// use; callers serialize access. Copying a List copies the head and tail
// pointers only (a shallow view over the same chain); two Lists must not
// both mutate the same chain.
type List[T any] struct {
	hook  func(*T) *Hook[T]
	front *T
	back  *T
}

// New creates an empty List. The hook accessor returns the address of the
// Hook embedded in a value; every list that elements migrate between via
// Swap or the splice operations must be built with the same accessor.
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
		panic("intrusivelist: push of linked value")
	}

	h.next = l.front
	if l.front != nil {
		l.hook(l.front).prev = v
	}

	l.front = v
	if l.back == nil {
		l.back = v
	}
}

// PushBack links v at the back of the list. v's hook must be unlinked;
// pushing a value that is already part of a list panics.
//
// Parameters:
//   - v: The value to link; must not be nil
func (l *List[T]) PushBack(v *T) {
	h := l.hook(v)
	if h.Linked() {
		panic("intrusivelist: push of linked value")
	}

	h.prev = l.back
	if l.back != nil {
		l.hook(l.back).next = v
	}

	l.back = v
	if l.front == nil {
		l.front = v
	}
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
}

// PopFront unlinks and returns the first element. Popping an empty list
// panics.
//
// Returns:
//   - The former front element, with its hook unlinked
func (l *List[T]) PopFront() *T {
	if l.front == nil {
		panic("intrusivelist: pop from empty list")
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
	return v
}

// PopBack unlinks and returns the last element. Popping an empty list
// panics.
//
// Returns:
//   - The former back element, with its hook unlinked
func (l *List[T]) PopBack() *T {
	if l.back == nil {
		panic("intrusivelist: pop from empty list")
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
	return v
}

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool {
	return l.front == nil
}

// Clear unlinks every element, leaving each hook unlinked and the list
// empty. O(n).
func (l *List[T]) Clear() {
	for v := l.front; v != nil; {
		h := l.hook(v)
		next := h.next
		h.prev = nil
		h.next = nil
		v = next
	}

	l.front = nil
	l.back = nil
}

// Swap exchanges the contents of the two lists. Both lists must use the
// same hook accessor.
//
// Parameters:
//   - other: The list to exchange contents with
func (l *List[T]) Swap(other *List[T]) {
	l.front, other.front = other.front, l.front
	l.back, other.back = other.back, l.back
}

// SpliceFront transfers all elements of other to the front of this list,
// preserving their order and leaving other empty. Both lists must use the
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
		other.front = nil
		other.back = nil
		return
	}

	l.hook(other.back).next = l.front
	l.hook(l.front).prev = other.back
	l.front = other.front

	other.front = nil
	other.back = nil
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
		other.front = nil
		other.back = nil
		return
	}

	l.hook(l.back).next = other.front
	l.hook(other.front).prev = l.back
	l.back = other.back

	other.front = nil
	other.back = nil
}
