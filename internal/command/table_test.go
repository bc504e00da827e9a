package command_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvsrv/internal/command"
	"kvsrv/internal/keyspace"
	"kvsrv/internal/session"
)

// fakeStore implements command.Store against an in-memory keyspace with
// no persistence or replication side effects, in the spirit of the
// teacher's table-driven tests against small hand-rolled fakes rather
// than a mocking library.
type fakeStore struct {
	dbs       []*keyspace.Database
	dirty     int64
	mutations []string
	slaves    []*session.Client
	saves     int
	bgsaves   int
	replicaOf string
	evicted   int
}

func newFakeStore(n int) *fakeStore {
	dbs := make([]*keyspace.Database, n)
	for i := range dbs {
		dbs[i] = keyspace.New(i)
	}
	return &fakeStore{dbs: dbs}
}

func (f *fakeStore) DB(index int) *keyspace.Database { return f.dbs[index] }
func (f *fakeStore) NumDBs() int                     { return len(f.dbs) }
func (f *fakeStore) MarkDirty(n int)                 { f.dirty += int64(n) }
func (f *fakeStore) DirtyCount() int64               { return f.dirty }
func (f *fakeStore) NotifyMutation(name string, argv [][]byte) {
	f.mutations = append(f.mutations, name)
}
func (f *fakeStore) TriggerSave() error   { f.saves++; return nil }
func (f *fakeStore) TriggerBgSave() error { f.bgsaves++; return nil }
func (f *fakeStore) LastSaveUnix() int64  { return 0 }
func (f *fakeStore) SetReplicaOf(host string, port int, enable bool) error {
	f.replicaOf = host
	return nil
}
func (f *fakeStore) Info() string                      { return "role:master\r\n" }
func (f *fakeStore) FullSyncSnapshot() ([]byte, error) { return []byte("dump"), nil }
func (f *fakeStore) RegisterSlave(c *session.Client)   { f.slaves = append(f.slaves, c) }
func (f *fakeStore) RecordKeyEvicted()                 { f.evicted++ }

type recordingDispatcher struct {
	table *command.Table
}

func (d recordingDispatcher) Lookup(name string) (int, bool, bool) { return d.table.Lookup(name) }
func (d recordingDispatcher) Dispatch(c *session.Client, name string, argv [][]byte) {
	d.table.Dispatch(c, name, argv)
}

func newClient(store *fakeStore, table *command.Table) *session.Client {
	return session.New(1, "127.0.0.1:1", "1", recordingDispatcher{table: table}, nil)
}

// drainReplies flushes c's queued replies and returns the bytes written.
func drainReplies(t *testing.T, c *session.Client) string {
	t.Helper()
	var out []byte
	err := c.Drain(func(fd int, buf []byte) (int, error) {
		out = append(out, buf...)
		return len(buf), nil
	}, func(error) bool { return false })
	require.NoError(t, err)
	return string(out)
}

func TestSetGetRoundTrip(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	c := newClient(store, table)

	table.Dispatch(c, "set", [][]byte{[]byte("k"), []byte("v")})
	table.Dispatch(c, "get", [][]byte{[]byte("k")})

	assert.Equal(t, []string{"set"}, store.mutations, "get must not be reported as a mutation")
	assert.Equal(t, int64(1), store.DirtyCount())
	assert.Equal(t, "+OK\r\n1\r\nv\r\n", drainReplies(t, c))
}

func TestSetnxDoesNotOverwrite(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	c := newClient(store, table)

	table.Dispatch(c, "setnx", [][]byte{[]byte("k"), []byte("first")})
	table.Dispatch(c, "setnx", [][]byte{[]byte("k"), []byte("second")})

	v := store.DB(0).Find([]byte("k"))
	require.NotNil(t, v)
	assert.Equal(t, "first", string(v.Bytes()))
}

func TestDelCountsRemoved(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	c := newClient(store, table)

	table.Dispatch(c, "set", [][]byte{[]byte("a"), []byte("1")})
	table.Dispatch(c, "set", [][]byte{[]byte("b"), []byte("1")})
	table.Dispatch(c, "del", [][]byte{[]byte("a"), []byte("b"), []byte("missing")})

	assert.Equal(t, 0, store.DB(0).Size())
	assert.Equal(t, "+OK\r\n+OK\r\n2\r\n", drainReplies(t, c), "del replies with the number of keys it removed")
}

func TestListPushPopLifecycle(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	c := newClient(store, table)

	table.Dispatch(c, "rpush", [][]byte{[]byte("l"), []byte("a")})
	table.Dispatch(c, "rpush", [][]byte{[]byte("l"), []byte("b")})
	table.Dispatch(c, "lpop", [][]byte{[]byte("l")})
	table.Dispatch(c, "lpop", [][]byte{[]byte("l")})

	assert.False(t, store.DB(0).Exists([]byte("l")), "list key must be removed once emptied")
	assert.Equal(t, 1, store.evicted, "emptying the list must record one key eviction")
}

func TestSetMembership(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	c := newClient(store, table)

	table.Dispatch(c, "sadd", [][]byte{[]byte("s"), []byte("m1")})
	table.Dispatch(c, "sadd", [][]byte{[]byte("s"), []byte("m2")})
	table.Dispatch(c, "srem", [][]byte{[]byte("s"), []byte("m1")})

	v := store.DB(0).Find([]byte("s"))
	require.NotNil(t, v)
	assert.False(t, v.SetContains([]byte("m1")))
	assert.True(t, v.SetContains([]byte("m2")))
}

func TestSelectValidatesRange(t *testing.T) {
	store := newFakeStore(2)
	table := command.NewTable(store)
	c := newClient(store, table)

	table.Dispatch(c, "select", [][]byte{[]byte("1")})
	assert.Equal(t, 1, c.DBIndex)

	table.Dispatch(c, "select", [][]byte{[]byte("5")})
	assert.Equal(t, 1, c.DBIndex, "an out-of-range select must not change the active database")
}

func TestSyncRegistersSlaveAndFlagsClient(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	c := newClient(store, table)

	table.Dispatch(c, "sync", nil)

	require.Len(t, store.slaves, 1)
	assert.True(t, c.HasFlag(session.FlagSlave))
}

func TestUnknownCommandLookupFails(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	_, _, ok := table.Lookup("nosuchcommand")
	assert.False(t, ok)
}

// fakeRecorder is command_test's hand-rolled stand-in for
// *metrics.Metrics, in the same spirit as fakeStore.
type fakeRecorder struct {
	calls []string
	errs  int
}

func (r *fakeRecorder) RecordCommand(name string, _ time.Duration, isError bool) {
	r.calls = append(r.calls, name)
	if isError {
		r.errs++
	}
}

func TestDispatchRecordsEveryCommandAgainstAnAttachedRecorder(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	rec := &fakeRecorder{}
	table.SetRecorder(rec)
	c := newClient(store, table)

	table.Dispatch(c, "set", [][]byte{[]byte("a"), []byte("1")})
	table.Dispatch(c, "get", [][]byte{[]byte("missing-type-check")})
	table.Dispatch(c, "lpush", [][]byte{[]byte("a"), []byte("x")}) // wrong type: "a" is a string

	assert.Equal(t, []string{"set", "get", "lpush"}, rec.calls)
	assert.Equal(t, 1, rec.errs, "only the wrong-type lpush should count as an error reply")
}

func TestDispatchWithoutRecorderDoesNotPanic(t *testing.T) {
	store := newFakeStore(1)
	table := command.NewTable(store)
	c := newClient(store, table)

	table.Dispatch(c, "ping", nil)
}
