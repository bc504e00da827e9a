// Package value implements the server's typed, reference-counted value
// model: STRING, LIST and SET containers sharing a single header type,
// recycled through a capped free-list the way the teacher recycles
// MessageBuffer headers through a sync.Pool keyed by size class.
//
// Every Value is owned by exactly the goroutine running the reactor
// (internal/reactor): there is no locking here because spec.md's
// concurrency model forbids concurrent mutation of server state. The
// free-list below is a plain slice, not a sync.Pool, for the same reason.
package value

// Tag identifies the payload a Value carries.
type Tag uint8

const (
	String Tag = iota
	List
	Set
	// Hash is a recognized snapshot-format tag (spec.md §4.8) that no
	// command in this slice produces. The dump loader reads a HASH
	// entry's payload as a SET, so no in-memory value carries this tag
	// and the dump writer never emits it.
	Hash
)

func (t Tag) String() string {
	switch t {
	case String:
		return "string"
	case List:
		return "list"
	case Set:
		return "set"
	case Hash:
		return "hash"
	default:
		return "unknown"
	}
}

// maxFreeListLen caps the recycled-header pool (spec.md §3: "capped at
// 1,000,000 headers").
const maxFreeListLen = 1_000_000

// Value is a tagged, reference-counted container. LIST and SET elements
// are themselves *Value of tag String — no other nesting is possible, so
// no reference cycle can form.
type Value struct {
	tag     Tag
	refs    int32
	str     []byte
	elems   []*Value          // LIST, in order
	members map[string]*Value // SET, keyed by element bytes
}

var freeList []*Value

func alloc() *Value {
	n := len(freeList)
	if n == 0 {
		return &Value{}
	}
	v := freeList[n-1]
	freeList = freeList[:n-1]
	return v
}

func recycle(v *Value) {
	v.tag = 0
	v.refs = 0
	v.str = nil
	v.elems = nil
	v.members = nil
	if len(freeList) >= maxFreeListLen {
		return
	}
	freeList = append(freeList, v)
}

// NewString constructs a STRING value with refcount 1. The byte slice is
// taken by reference, not copied — callers must not mutate it afterward.
func NewString(b []byte) *Value {
	v := alloc()
	v.tag = String
	v.refs = 1
	v.str = b
	return v
}

// NewList constructs an empty LIST value with refcount 1.
func NewList() *Value {
	v := alloc()
	v.tag = List
	v.refs = 1
	return v
}

// NewSet constructs an empty SET value with refcount 1.
func NewSet() *Value {
	v := alloc()
	v.tag = Set
	v.refs = 1
	v.members = make(map[string]*Value)
	return v
}

// Tag reports the value's type.
func (v *Value) Tag() Tag { return v.tag }

// Bytes returns the STRING payload. Only valid when Tag() == String.
func (v *Value) Bytes() []byte { return v.str }

// Len reports element/member count for LIST and SET, or byte length for STRING.
func (v *Value) Len() int {
	switch v.tag {
	case String:
		return len(v.str)
	case List:
		return len(v.elems)
	case Set:
		return len(v.members)
	default:
		return 0
	}
}

// sharedRefCount marks a Value as permanently shared (spec.md §4.3's
// canned replies): Retain/Release become no-ops on it, the same trick
// Redis's shared.ok/shared.czero objects use to hand out one heap
// object from thousands of call sites without refcounting it to death.
const sharedRefCount = 1<<31 - 1

// MakeShared pins v at sharedRefCount so it is never recycled, and
// returns it. Only meant for package-level canned objects built once at
// startup (internal/protocol's OK/Pong/error replies and similar).
func MakeShared(v *Value) *Value {
	v.refs = sharedRefCount
	return v
}

// Retain increments the reference count and returns v, mirroring the
// teacher's pattern of returning the thing you just mutated in place.
func Retain(v *Value) *Value {
	if v.refs == sharedRefCount {
		return v
	}
	v.refs++
	return v
}

// Release decrements the reference count, destroying and recycling the
// header once it reaches zero. Destroying a LIST or SET releases every
// element in turn. Shared objects (MakeShared) are never decremented.
func Release(v *Value) {
	if v == nil {
		return
	}
	if v.refs == sharedRefCount {
		return
	}
	v.refs--
	if v.refs > 0 {
		return
	}
	switch v.tag {
	case List:
		for _, e := range v.elems {
			Release(e)
		}
	case Set:
		for _, e := range v.members {
			Release(e)
		}
	}
	recycle(v)
}

// RefCount exposes the current count, for invariant tests only.
func (v *Value) RefCount() int32 { return v.refs }

// ListElements returns the ordered backing slice of a LIST value.
func (v *Value) ListElements() []*Value { return v.elems }

// ListPush appends a STRING element to a LIST value, taking ownership of it.
func (v *Value) ListPush(front bool, elem *Value) {
	if front {
		v.elems = append([]*Value{elem}, v.elems...)
		return
	}
	v.elems = append(v.elems, elem)
}

// ListPop removes and returns the head or tail element, or nil if empty.
// The caller takes ownership of the returned element and must Release it.
func (v *Value) ListPop(front bool) *Value {
	if len(v.elems) == 0 {
		return nil
	}
	if front {
		e := v.elems[0]
		v.elems = v.elems[1:]
		return e
	}
	last := len(v.elems) - 1
	e := v.elems[last]
	v.elems = v.elems[:last]
	return e
}

// ListRange returns a shallow slice of elements in [start, stop] inclusive,
// Redis-style negative indices resolved against the current length.
func (v *Value) ListRange(start, stop int) []*Value {
	n := len(v.elems)
	start = resolveIndex(start, n)
	stop = resolveIndex(stop, n)
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil
	}
	return v.elems[start : stop+1]
}

func resolveIndex(i, n int) int {
	if i < 0 {
		i = n + i
	}
	return i
}

// SetMembers returns the backing member map of a SET value.
func (v *Value) SetMembers() map[string]*Value { return v.members }

// SetAdd inserts elem keyed by its bytes, taking ownership on success.
// Returns false (and releases elem itself) if the member already exists.
func (v *Value) SetAdd(elem *Value) bool {
	key := string(elem.str)
	if _, ok := v.members[key]; ok {
		Release(elem)
		return false
	}
	v.members[key] = elem
	return true
}

// SetRemove deletes and releases a member by bytes. Returns true if present.
func (v *Value) SetRemove(member []byte) bool {
	key := string(member)
	e, ok := v.members[key]
	if !ok {
		return false
	}
	delete(v.members, key)
	Release(e)
	return true
}

// SetContains reports membership by bytes.
func (v *Value) SetContains(member []byte) bool {
	_, ok := v.members[string(member)]
	return ok
}
