package value_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvsrv/internal/value"
)

func TestNewStringRoundTrip(t *testing.T) {
	v := value.NewString([]byte("hello"))
	defer value.Release(v)

	assert.Equal(t, value.String, v.Tag())
	assert.Equal(t, "hello", string(v.Bytes()))
	assert.Equal(t, int32(1), v.RefCount())
}

func TestRetainReleaseRefcounting(t *testing.T) {
	v := value.NewString([]byte("x"))
	value.Retain(v)
	assert.Equal(t, int32(2), v.RefCount())

	value.Release(v)
	assert.Equal(t, int32(1), v.RefCount())

	value.Release(v)
}

func TestListPushPopOrdering(t *testing.T) {
	l := value.NewList()
	defer value.Release(l)

	l.ListPush(false, value.NewString([]byte("a")))
	l.ListPush(false, value.NewString([]byte("b")))
	l.ListPush(true, value.NewString([]byte("z")))

	elems := l.ListElements()
	require.Len(t, elems, 3)
	assert.Equal(t, "z", string(elems[0].Bytes()))
	assert.Equal(t, "a", string(elems[1].Bytes()))
	assert.Equal(t, "b", string(elems[2].Bytes()))

	front := l.ListPop(true)
	assert.Equal(t, "z", string(front.Bytes()))
	value.Release(front)

	back := l.ListPop(false)
	assert.Equal(t, "b", string(back.Bytes()))
	value.Release(back)
}

func TestListRangeNegativeIndices(t *testing.T) {
	l := value.NewList()
	defer value.Release(l)
	for _, s := range []string{"a", "b", "c", "d"} {
		l.ListPush(false, value.NewString([]byte(s)))
	}

	got := l.ListRange(-2, -1)
	require.Len(t, got, 2)
	assert.Equal(t, "c", string(got[0].Bytes()))
	assert.Equal(t, "d", string(got[1].Bytes()))
}

func TestMakeSharedSurvivesRelease(t *testing.T) {
	shared := value.MakeShared(value.NewString([]byte("+OK\r\n")))

	for i := 0; i < 5; i++ {
		value.Release(shared)
	}
	assert.Equal(t, "+OK\r\n", string(shared.Bytes()), "a shared value must never be recycled by Release")

	value.Retain(shared)
	value.Release(shared)
	assert.Equal(t, "+OK\r\n", string(shared.Bytes()))
}

func TestSetAddRemoveContains(t *testing.T) {
	s := value.NewSet()
	defer value.Release(s)

	assert.True(t, s.SetAdd(value.NewString([]byte("m1"))))
	assert.False(t, s.SetAdd(value.NewString([]byte("m1"))))
	assert.True(t, s.SetContains([]byte("m1")))

	assert.True(t, s.SetRemove([]byte("m1")))
	assert.False(t, s.SetContains([]byte("m1")))
	assert.False(t, s.SetRemove([]byte("m1")))
}
