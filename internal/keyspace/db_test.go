package keyspace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvsrv/internal/keyspace"
	"kvsrv/internal/value"
)

func TestAddFindDelete(t *testing.T) {
	db := keyspace.New(0)

	ok := db.Add(value.NewString([]byte("k")), value.NewString([]byte("v")))
	require.True(t, ok)
	assert.True(t, db.Exists([]byte("k")))

	got := db.Find([]byte("k"))
	require.NotNil(t, got)
	assert.Equal(t, "v", string(got.Bytes()))

	assert.True(t, db.Delete([]byte("k")))
	assert.False(t, db.Exists([]byte("k")))
	assert.False(t, db.Delete([]byte("k")))
}

func TestAddRejectsDuplicate(t *testing.T) {
	db := keyspace.New(0)
	require.True(t, db.Add(value.NewString([]byte("k")), value.NewString([]byte("v1"))))
	assert.False(t, db.Add(value.NewString([]byte("k")), value.NewString([]byte("v2"))))
}

func TestReplaceOverwritesExisting(t *testing.T) {
	db := keyspace.New(0)
	db.Add(value.NewString([]byte("k")), value.NewString([]byte("v1")))

	db.Replace(value.NewString([]byte("k")), value.NewString([]byte("v2")))
	got := db.Find([]byte("k"))
	require.NotNil(t, got)
	assert.Equal(t, "v2", string(got.Bytes()))
	assert.Equal(t, 1, db.Size())
}

func TestGrowthDoublesCapacityOnOverflow(t *testing.T) {
	db := keyspace.New(0)
	initial := db.Capacity()

	for i := 0; i < initial+1; i++ {
		db.Add(value.NewString([]byte{byte(i)}), value.NewString([]byte("v")))
	}
	assert.Greater(t, db.Capacity(), initial)
}

func TestShrinkPolicy(t *testing.T) {
	db := keyspace.New(0)
	assert.False(t, db.ShouldShrink(), "fresh db below the shrink floor should never shrink")

	for i := 0; i < 20000; i++ {
		db.Add(value.NewString([]byte{byte(i), byte(i >> 8)}), value.NewString([]byte("v")))
	}
	require.Greater(t, db.Capacity(), 16384)

	for i := 0; i < 19990; i++ {
		db.Delete([]byte{byte(i), byte(i >> 8)})
	}
	assert.True(t, db.ShouldShrink())

	before := db.Capacity()
	db.Shrink()
	assert.Less(t, db.Capacity(), before)
}

func TestFlushResetsCapacity(t *testing.T) {
	db := keyspace.New(0)
	db.Add(value.NewString([]byte("k")), value.NewString([]byte("v")))
	for i := 0; i < 10; i++ {
		db.Add(value.NewString([]byte{byte('a' + i)}), value.NewString([]byte("v")))
	}
	require.Greater(t, db.Capacity(), keyspace.New(0).Capacity())

	db.Flush()
	assert.Equal(t, 0, db.Size())
	assert.Equal(t, keyspace.New(0).Capacity(), db.Capacity())
}
