package intrusivelist

// ForwardHook is the singly-linked link embedded in values stored in a
// ForwardList. The zero value is an unlinked hook.
type ForwardHook[T any] struct {
	next *T
}

// ForwardList is a singly linked intrusive list of *T. Push and pop at the
// front, push at the back, and splice are O(1); there is no erase by value.
// ForwardList is not safe for concurrent use; callers serialize access.
type ForwardList[T any] struct {
	hook  func(*T) *ForwardHook[T]
	front *T
	back  *T
}

// NewForward creates an empty ForwardList. The hook accessor returns the
// address of the ForwardHook embedded in a value; every list that elements
// migrate between via Swap or the splice operations must be built with the
// same accessor.
//
// Parameters:
//   - hook: Accessor from a value to its embedded ForwardHook
//
// Returns:
//   - A pointer to a new empty ForwardList
func NewForward[T any](hook func(*T) *ForwardHook[T]) *ForwardList[T] {
	return &ForwardList[T]{hook: hook}
}

// Front returns the first element of the list, or nil if the list is empty.
func (l *ForwardList[T]) Front() *T {
	return l.front
}

// Back returns the last element of the list, or nil if the list is empty.
func (l *ForwardList[T]) Back() *T {
	return l.back
}

// Next returns the element after v in the list, or nil if v is the back.
func (l *ForwardList[T]) Next(v *T) *T {
	return l.hook(v).next
}

// PushFront links v at the front of the list. A value already linked into a
// single-item list is indistinguishable from an unlinked one through its
// hook, so unlike the doubly linked List no membership check is made here
// beyond the next pointer.
//
// Parameters:
//   - v: The value to link; must not be nil
func (l *ForwardList[T]) PushFront(v *T) {
	h := l.hook(v)
	if h.next != nil {
		panic("intrusivelist: push of linked value")
	}

	h.next = l.front
	l.front = v
	if l.back == nil {
		l.back = v
	}
}

// PushBack links v at the back of the list.
//
// Parameters:
//   - v: The value to link; must not be nil
func (l *ForwardList[T]) PushBack(v *T) {
	h := l.hook(v)
	if h.next != nil {
		panic("intrusivelist: push of linked value")
	}

	if l.back != nil {
		l.hook(l.back).next = v
	} else {
		l.front = v
	}
	l.back = v
}

// PopFront unlinks and returns the first element. Popping an empty list
// panics.
//
// Returns:
//   - The former front element, with its hook unlinked
func (l *ForwardList[T]) PopFront() *T {
	if l.front == nil {
		panic("intrusivelist: pop from empty list")
	}

	v := l.front
	h := l.hook(v)
	l.front = h.next
	if l.front == nil {
		l.back = nil
	}

	h.next = nil
	return v
}

// Empty reports whether the list has no elements.
func (l *ForwardList[T]) Empty() bool {
	return l.front == nil
}

// Clear unlinks every element, leaving each hook unlinked and the list
// empty. O(n).
func (l *ForwardList[T]) Clear() {
	for v := l.front; v != nil; {
		h := l.hook(v)
		next := h.next
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
func (l *ForwardList[T]) Swap(other *ForwardList[T]) {
	l.front, other.front = other.front, l.front
	l.back, other.back = other.back, l.back
}

// SpliceFront transfers all elements of other to the front of this list,
// preserving their order and leaving other empty. Both lists must use the
// same hook accessor.
//
// Parameters:
//   - other: The list to drain; empty afterwards
func (l *ForwardList[T]) SpliceFront(other *ForwardList[T]) {
	if other.Empty() {
		return
	}

	if l.Empty() {
		l.front = other.front
		l.back = other.back
	} else {
		l.hook(other.back).next = l.front
		l.front = other.front
	}

	other.front = nil
	other.back = nil
}

// SpliceBack transfers all elements of other to the back of this list,
// preserving their order and leaving other empty. Both lists must use the
// same hook accessor.
//
// Parameters:
//   - other: The list to drain; empty afterwards
func (l *ForwardList[T]) SpliceBack(other *ForwardList[T]) {
	if other.Empty() {
		return
	}

	if l.Empty() {
		l.front = other.front
	} else {
		l.hook(l.back).next = other.front
	}
	l.back = other.back

	other.front = nil
	other.back = nil
}
