// Package server wires the reactor, the raw-fd listener, the keyspace,
// the command table, snapshot persistence, and master/slave replication
// into the single-threaded process spec.md describes, the same role the
// teacher's internal/server.Server plays wiring its Hub, NATS client and
// HTTP mux together — generalized here from "one goroutine per concern
// plus an http.Server" to "one reactor goroutine driving everything on
// the wire protocol's fast path, with the admin HTTP surface and the
// background snapshot writer as the only other goroutines in the
// process" (spec.md §5: "the server is single-threaded except for the
// narrow, explicitly-sanctioned exceptions in §9").
package server

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"kvsrv/internal/admin"
	"kvsrv/internal/command"
	"kvsrv/internal/config"
	"kvsrv/internal/eventbus"
	"kvsrv/internal/keyspace"
	"kvsrv/internal/metrics"
	"kvsrv/internal/netio"
	"kvsrv/internal/reactor"
	"kvsrv/internal/replication"
	"kvsrv/internal/session"
	"kvsrv/internal/snapshot"
	"kvsrv/internal/value"
)

// cron ticks (spec.md §4.9's "every N ticks" cadences, at 1 Hz).
const (
	tickIntervalMs  = 1000
	shrinkEveryTick = 5
	idleEveryTick   = 10
)

// Server owns every piece of mutable state the command handlers touch
// through the command.Store interface, plus the reactor that drives
// them. Only the reactor goroutine may call into dbs/table/saver/repl;
// Start/Shutdown and the admin HTTP goroutine never touch them directly.
type Server struct {
	cfg    *config.Config
	logger *log.Logger

	reactor  *reactor.Reactor
	listenFd int

	dbs   []*keyspace.Database
	table *command.Table

	saver *snapshot.Saver
	repl  *replication.Controller

	metrics    *metrics.Metrics
	sysMetrics *metrics.SystemMetrics
	events     *eventbus.Publisher
	admin      *admin.Server

	clients map[int]*session.Client
	slaves  map[int]*session.Client

	dirty        int64
	nextClientID int64
	startedAt    time.Time
	tickCount    int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Server bound to cfg's port but does not yet listen.
func New(cfg *config.Config, logger *log.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	dbs := make([]*keyspace.Database, cfg.Databases)
	for i := range dbs {
		dbs[i] = keyspace.New(i)
	}

	r, err := reactor.New(reactor.NowMillis)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("server: create reactor: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		reactor:    r,
		listenFd:   -1,
		dbs:        dbs,
		saver:      snapshot.NewSaver(cfg.DumpPath()),
		metrics:    metrics.New(),
		sysMetrics: metrics.NewSystemMetrics(),
		clients:    make(map[int]*session.Client),
		slaves:     make(map[int]*session.Client),
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.repl = replication.New(logger, s.attachMaster)
	s.table = command.NewTable(s)
	s.table.SetRecorder(s.metrics)

	if cfg.AdminBind != "" {
		s.admin = admin.New(cfg.AdminBind, s.Stats, logger)
	}
	if cfg.EventBusURL != "" {
		if pub, err := eventbus.Connect(cfg.EventBusURL, s.metrics, logger); err != nil {
			logger.Printf("server: event bus disabled: %v", err)
		} else {
			s.events = pub
		}
	}

	return s, nil
}

// Start loads any existing snapshot, binds the listener, registers the
// accept handler and maintenance timer, and runs the reactor loop until
// Shutdown is called. It blocks the calling goroutine.
func (s *Server) Start() error {
	if err := snapshot.LoadInto(s.cfg.DumpPath(), s.dbs); err != nil {
		return fmt.Errorf("server: load snapshot: %w", err)
	}

	host := s.cfg.Bind
	listenFd, err := netio.Listen(host, s.cfg.Port)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listenFd = listenFd

	if err := s.reactor.CreateFileEvent(listenFd, reactor.Readable, s.acceptHandler); err != nil {
		return fmt.Errorf("server: register accept handler: %w", err)
	}
	s.reactor.CreateTimeEvent(tickIntervalMs, s.maintenanceTick)

	if s.cfg.Replica != nil {
		s.repl.SetMaster(s.cfg.Replica.Host, s.cfg.Replica.Port, true)
	}

	if s.admin != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.admin.Run(s.ctx); err != nil {
				s.logger.Printf("server: admin server error: %v", err)
			}
		}()
	}

	s.logger.Printf("kvsrv listening on %s:%d, %d databases", host, s.cfg.Port, len(s.dbs))
	return s.reactor.Main()
}

// Shutdown stops the reactor loop and the admin server, and waits for
// the admin server goroutine to finish.
func (s *Server) Shutdown() {
	s.logger.Printf("server: shutting down")
	s.reactor.Stop()
	s.cancel()
	if s.events != nil {
		s.events.Close()
	}
	s.wg.Wait()
	if s.listenFd >= 0 {
		netio.Close(s.listenFd)
	}
	s.reactor.Close()
}

// --- connection lifecycle -------------------------------------------------

func (s *Server) acceptHandler(fd int, mask reactor.Mask) {
	for {
		connFd, remoteAddr, err := netio.Accept(fd)
		if err != nil {
			if err != netio.ErrWouldBlock {
				s.logger.Printf("server: accept error: %v", err)
			}
			return
		}
		if err := netio.ConfigureClientSocket(connFd); err != nil {
			s.logger.Printf("server: configure client socket: %v", err)
			netio.Close(connFd)
			continue
		}
		s.registerClient(connFd, remoteAddr, false)
	}
}

func (s *Server) registerClient(fd int, remoteAddr string, master bool) *session.Client {
	s.nextClientID++
	id := strconv.FormatInt(s.nextClientID, 10)

	c := session.New(fd, remoteAddr, id, s.table, func(wantWrite bool) {
		s.setWriteInterest(fd, wantWrite)
	})
	if master {
		c.SetFlag(session.FlagMaster)
	}
	s.clients[fd] = c
	s.metrics.ConnectionOpened()

	s.reactor.CreateFileEvent(fd, reactor.Readable, s.clientReadable)
	return c
}

func (s *Server) setWriteInterest(fd int, want bool) {
	if want {
		s.reactor.CreateFileEvent(fd, reactor.Writable, s.clientWritable)
		return
	}
	s.reactor.DeleteFileEvent(fd, reactor.Writable)
}

func (s *Server) clientReadable(fd int, mask reactor.Mask) {
	c, ok := s.clients[fd]
	if !ok {
		return
	}

	buf := make([]byte, 16*1024)
	n, err := netio.Read(fd, buf)
	if err != nil {
		if err == netio.ErrWouldBlock {
			return
		}
		s.metrics.ConnectionError()
		s.closeClient(c)
		return
	}
	if n == 0 {
		s.closeClient(c)
		return
	}

	c.Touch(time.Now().Unix())
	c.Feed(buf[:n])

	if err := c.Drain(netio.Write, isWouldBlock); err != nil {
		s.metrics.ConnectionError()
		s.closeClient(c)
		return
	}
	if c.HasFlag(session.FlagClose) && c.OutputEmpty() {
		s.closeClient(c)
	}
}

func (s *Server) clientWritable(fd int, mask reactor.Mask) {
	c, ok := s.clients[fd]
	if !ok {
		return
	}
	if err := c.Drain(netio.Write, isWouldBlock); err != nil {
		s.metrics.ConnectionError()
		s.closeClient(c)
		return
	}
	if c.HasFlag(session.FlagClose) && c.OutputEmpty() {
		s.closeClient(c)
	}
}

func (s *Server) closeClient(c *session.Client) {
	s.reactor.DeleteFileEvent(c.Fd, reactor.Readable|reactor.Writable)
	netio.Close(c.Fd)
	c.ReleaseOutput()
	delete(s.clients, c.Fd)
	if _, wasSlave := s.slaves[c.Fd]; wasSlave {
		delete(s.slaves, c.Fd)
		s.metrics.SetSlavesLinked(len(s.slaves))
	}
	s.metrics.ConnectionClosed(0)
}

func isWouldBlock(err error) bool { return err == netio.ErrWouldBlock }

// attachMaster wraps a freshly-synced socket (replication.Controller's
// AttachFunc) as a MASTER-flagged passive client: its only job is to
// feed subsequent propagated commands through the ordinary dispatch
// path, same as any other client.
func (s *Server) attachMaster(fd int, remoteAddr string) {
	netio.SetNonBlocking(fd)
	s.registerClient(fd, remoteAddr, true)
	s.metrics.SetReplicaConnected(true)
	s.metrics.RecordReplicaSync(true)
}

// --- command.Store implementation -----------------------------------------

func (s *Server) DB(index int) *keyspace.Database { return s.dbs[index] }
func (s *Server) NumDBs() int                     { return len(s.dbs) }

func (s *Server) MarkDirty(n int) {
	atomic.AddInt64(&s.dirty, int64(n))
	s.metrics.SetDirtyChanges(atomic.LoadInt64(&s.dirty))
}

func (s *Server) DirtyCount() int64 { return atomic.LoadInt64(&s.dirty) }

// NotifyMutation propagates a dirty-increasing command to every attached
// slave (spec.md §4.10) and, if configured, publishes an audit event on
// the event bus (SPEC_FULL.md domain stack). Neither path can fail a
// client's own reply, which has already been queued by the handler.
func (s *Server) NotifyMutation(name string, argv [][]byte) {
	if len(s.slaves) > 0 {
		wire := encodeCommand(s.table, name, argv)
		for _, slave := range s.slaves {
			slave.QueueReply(value.NewString(wire))
		}
	}
	if s.events != nil {
		s.events.PublishMutation(eventbus.MutationEvent{
			Command:   name,
			Args:      bytesToStrings(argv),
			Timestamp: time.Now().Unix(),
		})
	}
}

func (s *Server) TriggerSave() error {
	start := time.Now()
	s.metrics.SnapshotStarted()
	err := s.saver.SaveForeground(s.dbs)
	s.metrics.SnapshotFinished(time.Since(start), err)
	if err == nil {
		atomic.StoreInt64(&s.dirty, 0)
	}
	return err
}

func (s *Server) TriggerBgSave() error {
	if s.saver.InProgress() {
		return fmt.Errorf("background save already in progress")
	}
	s.metrics.SnapshotStarted()
	return s.saver.StartBackground(s.dbs)
}

func (s *Server) LastSaveUnix() int64 { return s.saver.LastSave() }

func (s *Server) SetReplicaOf(host string, port int, enable bool) error {
	s.repl.SetMaster(host, port, enable)
	if !enable {
		s.metrics.SetReplicaConnected(false)
	}
	return nil
}

func (s *Server) Info() string {
	role := "master"
	if s.repl.State() != replication.StateNone {
		role = "slave"
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "role:%s\r\n", role)
	fmt.Fprintf(&buf, "connected_clients:%d\r\n", len(s.clients))
	fmt.Fprintf(&buf, "connected_slaves:%d\r\n", len(s.slaves))
	fmt.Fprintf(&buf, "rdb_changes_since_last_save:%d\r\n", s.DirtyCount())
	fmt.Fprintf(&buf, "rdb_bgsave_in_progress:%d\r\n", boolInt(s.saver.InProgress()))
	fmt.Fprintf(&buf, "rdb_last_save_time:%d\r\n", s.saver.LastSave())
	fmt.Fprintf(&buf, "uptime_in_seconds:%d\r\n", int64(time.Since(s.startedAt).Seconds()))
	return buf.String()
}

func (s *Server) FullSyncSnapshot() ([]byte, error) {
	snaps := snapshot.Capture(s.dbs)
	return snapshot.Bytes(snaps)
}

func (s *Server) RegisterSlave(c *session.Client) {
	s.slaves[c.Fd] = c
	s.metrics.SetSlavesLinked(len(s.slaves))
}

func (s *Server) RecordKeyEvicted() { s.metrics.RecordKeyEvicted() }

// --- maintenance cron (spec.md §4.9) ---------------------------------------

// maintenanceTick runs once per second: refresh the memory counter every
// tick, log and shrink oversized databases every shrinkEveryTick ticks,
// sweep idle clients every idleEveryTick ticks, reap a finished
// background save, evaluate the save-rule policy, and drive the
// replication bootstrap state machine.
func (s *Server) maintenanceTick(id int64) int64 {
	s.tickCount++

	s.sysMetrics.Update()
	s.metrics.UpdateSystem(s.sysMetrics.Goroutines(), s.sysMetrics.MemoryBytes(), s.sysMetrics.CPUPercent())
	s.metrics.RefreshRate()
	for _, db := range s.dbs {
		s.metrics.SetKeyCount(db.ID(), db.Size())
	}

	if s.tickCount%shrinkEveryTick == 0 {
		for _, db := range s.dbs {
			if db.ShouldShrink() {
				before := db.Capacity()
				db.Shrink()
				s.logger.Printf("db %d: shrank capacity %d -> %d (%d keys)", db.ID(), before, db.Capacity(), db.Size())
			}
		}
	}

	if s.tickCount%idleEveryTick == 0 {
		s.sweepIdleClients()
	}

	if finished, err := s.saver.Reap(); finished {
		s.metrics.SnapshotFinished(0, err)
		if err != nil {
			s.logger.Printf("background save failed: %v", err)
		} else {
			atomic.StoreInt64(&s.dirty, 0)
			s.logger.Printf("background save complete")
		}
	}

	s.evaluateSavePolicy()
	s.repl.Tick(s.dbs, s.cfg.DumpPath())

	return tickIntervalMs
}

func (s *Server) sweepIdleClients() {
	if s.cfg.Timeout <= 0 {
		return
	}
	now := time.Now().Unix()
	for fd, c := range s.clients {
		if c.HasFlag(session.FlagMaster) || c.HasFlag(session.FlagSlave) {
			continue
		}
		if c.IdleSeconds(now) >= int64(s.cfg.Timeout) {
			s.logger.Printf("closing idle client %s (fd %d)", c.ID, fd)
			s.closeClient(c)
		}
	}
}

func (s *Server) evaluateSavePolicy() {
	if s.saver.InProgress() {
		return
	}
	dirty := s.DirtyCount()
	if dirty == 0 {
		return
	}
	elapsed := time.Now().Unix() - s.saver.LastSave()
	for _, rule := range s.cfg.SaveRules {
		if elapsed >= int64(rule.Seconds) && dirty >= int64(rule.Changes) {
			s.logger.Printf("save rule %d/%d triggered bgsave (%d changes in %ds)", rule.Seconds, rule.Changes, dirty, elapsed)
			if err := s.TriggerBgSave(); err != nil {
				s.logger.Printf("bgsave trigger failed: %v", err)
			}
			return
		}
	}
}

// --- admin/stats ------------------------------------------------------------

// Stats returns the snapshot published on /health and streamed over
// /admin/ws (SPEC_FULL.md domain stack).
func (s *Server) Stats() map[string]interface{} {
	keys := 0
	for _, db := range s.dbs {
		keys += db.Size()
	}
	return map[string]interface{}{
		"uptime_seconds":   int64(time.Since(s.startedAt).Seconds()),
		"connected_clients": len(s.clients),
		"connected_slaves":  len(s.slaves),
		"total_keys":        keys,
		"dirty_changes":     s.DirtyCount(),
		"bgsave_in_progress": s.saver.InProgress(),
		"last_save_unix":    s.saver.LastSave(),
	}
}

// --- replication wire encoding ----------------------------------------------

// encodeCommand rebuilds the wire form of a dispatched command for
// propagation to slaves (spec.md §4.10). Non-bulk mutating commands only
// ever carry key names, which spec.md's inline protocol assumes are
// whitespace-free; bulk commands carry their payload using the same
// length-prefixed framing a client would have sent it with.
func encodeCommand(table *command.Table, name string, argv [][]byte) []byte {
	_, isBulk, _ := table.Lookup(name)

	var buf bytes.Buffer
	buf.WriteString(name)
	if !isBulk || len(argv) == 0 {
		for _, a := range argv {
			buf.WriteByte(' ')
			buf.Write(a)
		}
		buf.WriteString("\r\n")
		return buf.Bytes()
	}

	head, payload := argv[:len(argv)-1], argv[len(argv)-1]
	for _, a := range head {
		buf.WriteByte(' ')
		buf.Write(a)
	}
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(len(payload)))
	buf.WriteString("\r\n")
	buf.Write(payload)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func bytesToStrings(argv [][]byte) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = string(a)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
