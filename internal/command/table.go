// Package command implements dispatch (spec.md §4.7): a static
// name→handler table with arity/type checks and the dirty-change
// counter that drives both snapshot save policies and replication feed.
// Handlers are free functions over a Store abstraction rather than a
// concrete server type, the same separation the teacher keeps between
// websocket.Hub and the metrics.MetricsInterface it depends on, so this
// package never imports internal/server and stays unit-testable with a
// fake Store.
package command

import (
	"time"

	"kvsrv/internal/keyspace"
	"kvsrv/internal/session"
)

// Recorder observes dispatched commands for metrics (SPEC_FULL.md's
// per-command counters). internal/metrics.Metrics satisfies this
// implicitly; command never imports internal/metrics directly, keeping
// the dispatch path mockable in tests without pulling in Prometheus.
type Recorder interface {
	RecordCommand(name string, duration time.Duration, isError bool)
}

// Store is everything a command handler needs from the server: access
// to the keyspace and the ability to record a mutation.
type Store interface {
	DB(index int) *keyspace.Database
	NumDBs() int
	MarkDirty(n int)
	DirtyCount() int64
	// NotifyMutation is called once per dispatch where DirtyCount
	// increased; it feeds both replication (spec.md §4.7) and the
	// optional audit event bus (SPEC_FULL.md domain stack).
	NotifyMutation(name string, argv [][]byte)

	// Admin surface used by save/bgsave/lastsave/slaveof/info handlers
	// (SPEC_FULL.md supplemented features).
	TriggerSave() error
	TriggerBgSave() error
	LastSaveUnix() int64
	SetReplicaOf(host string, port int, enable bool) error
	Info() string

	// Master-side replication (spec.md §4.10's counterpart): a slave
	// issues SYNC, the master replies with the dump and starts feeding
	// it every subsequent mutating command.
	FullSyncSnapshot() ([]byte, error)
	RegisterSlave(c *session.Client)

	// RecordKeyEvicted is called once a LIST/SET value is deleted
	// because it became empty (handlers_list.go, handlers_set.go).
	RecordKeyEvicted()
}

// HandlerFunc implements one command. argv excludes the command name.
type HandlerFunc func(store Store, c *session.Client, argv [][]byte)

type cmdSpec struct {
	arity   int // total argc including the command name; negative means "at least |arity|"
	bulk    bool
	handler HandlerFunc
}

// Table is the command name→handler map plus Lookup/Dispatch, satisfying
// session.Dispatcher.
type Table struct {
	store    Store
	specs    map[string]cmdSpec
	recorder Recorder
}

// SetRecorder attaches a Recorder invoked around every dispatched
// command (SPEC_FULL.md metrics). Unset by default, matching NewTable's
// existing call sites and tests, which have no metrics to report.
func (t *Table) SetRecorder(r Recorder) { t.recorder = r }

// NewTable builds the full handler table described in SPEC_FULL.md's
// "supplemented features" section.
func NewTable(store Store) *Table {
	t := &Table{store: store, specs: make(map[string]cmdSpec)}
	t.register("ping", -1, false, cmdPing)
	t.register("echo", 2, false, cmdEcho)
	t.register("select", 2, false, cmdSelect)
	t.register("get", 2, false, cmdGet)
	t.register("set", 3, true, cmdSet)
	t.register("setnx", 3, true, cmdSetnx)
	t.register("del", -2, false, cmdDel)
	t.register("exists", 2, false, cmdExists)
	t.register("type", 2, false, cmdType)
	t.register("dbsize", 1, false, cmdDBSize)
	t.register("flushdb", 1, false, cmdFlushDB)
	t.register("flushall", 1, false, cmdFlushAll)

	t.register("lpush", 3, true, cmdLPush)
	t.register("rpush", 3, true, cmdRPush)
	t.register("lpop", 2, false, cmdLPop)
	t.register("rpop", 2, false, cmdRPop)
	t.register("llen", 2, false, cmdLLen)
	t.register("lrange", 4, false, cmdLRange)

	t.register("sadd", 3, true, cmdSAdd)
	t.register("srem", 3, true, cmdSRem)
	t.register("sismember", 3, true, cmdSIsMember)
	t.register("scard", 2, false, cmdSCard)
	t.register("smembers", 2, false, cmdSMembers)

	t.register("save", 1, false, cmdSave)
	t.register("bgsave", 1, false, cmdBgSave)
	t.register("lastsave", 1, false, cmdLastSave)
	t.register("slaveof", 3, false, cmdSlaveOf)
	t.register("info", 1, false, cmdInfo)
	t.register("sync", 1, false, cmdSync)
	return t
}

func (t *Table) register(name string, arity int, bulk bool, h HandlerFunc) {
	t.specs[name] = cmdSpec{arity: arity, bulk: bulk, handler: h}
}

// Lookup reports arity/bulk metadata for a command name, satisfying
// session.Dispatcher.
func (t *Table) Lookup(name string) (arity int, bulk bool, ok bool) {
	s, found := t.specs[name]
	if !found {
		return 0, false, false
	}
	return s.arity, s.bulk, true
}

// Dispatch runs the named handler and notifies the store if the dirty
// counter increased, feeding replication (spec.md §4.7).
func (t *Table) Dispatch(c *session.Client, name string, argv [][]byte) {
	s, ok := t.specs[name]
	if !ok {
		return
	}
	before := t.store.DirtyCount()

	c.ResetReplyOutcome()
	start := time.Now()
	s.handler(t.store, c, argv)
	if t.recorder != nil {
		t.recorder.RecordCommand(name, time.Since(start), c.RepliedWithError())
	}

	if t.store.DirtyCount() != before {
		t.store.NotifyMutation(name, argv)
	}
}
