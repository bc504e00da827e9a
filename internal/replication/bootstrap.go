// Package replication implements one-shot master→slave bootstrap
// (spec.md §4.10): blocking SYNC, full dump transfer, reload, then
// attach as a passive MASTER-flagged client. It uses internal/netio's
// synchronous helpers exclusively — running the reactor here would
// re-enter the very handler driving this call, which spec.md explicitly
// calls out as the reason these helpers exist.
package replication

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"kvsrv/internal/keyspace"
	"kvsrv/internal/netio"
	"kvsrv/internal/snapshot"
)

// State is the replica role's state machine.
type State int

const (
	// StateNone means this server is not replicating from anyone.
	StateNone State = iota
	// StateConnect means a master is configured but not yet synced.
	StateConnect
	// StateConnected means the last SYNC succeeded and a master client
	// is attached.
	StateConnected
)

const syncDeadlineSeconds = 5

// AttachFunc wraps a freshly synced socket as a MASTER-flagged client
// registered for readable events on the reactor.
type AttachFunc func(fd int, remoteAddr string)

// Controller drives the replica side of spec.md §4.10.
type Controller struct {
	logger *log.Logger
	attach AttachFunc

	host  string
	port  int
	state State
}

// New creates a controller with no master configured.
func New(logger *log.Logger, attach AttachFunc) *Controller {
	return &Controller{logger: logger, attach: attach, state: StateNone}
}

// State reports the current replication state.
func (c *Controller) State() State { return c.state }

// SetMaster configures (or clears, when enable is false) the master this
// server should replicate from (spec.md's SLAVEOF command).
func (c *Controller) SetMaster(host string, port int, enable bool) {
	if !enable {
		c.host, c.port = "", 0
		c.state = StateNone
		return
	}
	c.host, c.port = host, port
	c.state = StateConnect
}

// Tick runs the bootstrap sequence when the state is Connect, called
// once per second by the maintenance cron (spec.md §4.9). Any error
// leaves the state at Connect so the next tick retries.
func (c *Controller) Tick(dbs []*keyspace.Database, dumpPath string) {
	if c.state != StateConnect {
		return
	}
	if err := c.syncOnce(dbs, dumpPath); err != nil {
		c.logger.Printf("replication: sync with %s:%d failed: %v", c.host, c.port, err)
		return
	}
	c.state = StateConnected
}

func (c *Controller) syncOnce(dbs []*keyspace.Database, dumpPath string) error {
	fd, err := netio.DialBlocking(c.host, c.port)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			netio.Close(fd)
		}
	}()

	if err := netio.SyncWrite(fd, []byte("SYNC \r\n"), syncDeadlineSeconds); err != nil {
		return fmt.Errorf("send SYNC: %w", err)
	}

	countLine, err := netio.SyncReadLine(fd, syncDeadlineSeconds)
	if err != nil {
		return fmt.Errorf("read dump size: %w", err)
	}
	n, err := strconv.Atoi(countLine)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid dump size %q", countLine)
	}

	tmpPath := filepath.Join(filepath.Dir(dumpPath), fmt.Sprintf("temp-%d.rdb", os.Getpid()))
	if err := receiveDump(fd, tmpPath, n); err != nil {
		return fmt.Errorf("receive dump: %w", err)
	}
	if err := os.Rename(tmpPath, dumpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename dump: %w", err)
	}

	for _, db := range dbs {
		db.Flush()
	}
	if err := snapshot.LoadInto(dumpPath, dbs); err != nil {
		return fmt.Errorf("reload dump: %w", err)
	}

	c.attach(fd, fmt.Sprintf("%s:%d", c.host, c.port))
	ok = true
	return nil
}

func receiveDump(fd int, tmpPath string, total int) error {
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer f.Close()

	const chunkSize = 1024
	buf := make([]byte, chunkSize)
	remaining := total
	for remaining > 0 {
		want := chunkSize
		if remaining < want {
			want = remaining
		}
		n, err := netio.SyncRead(fd, buf[:want], syncDeadlineSeconds)
		if err != nil {
			os.Remove(tmpPath)
			return err
		}
		if n == 0 {
			continue
		}
		if _, err := f.Write(buf[:n]); err != nil {
			os.Remove(tmpPath)
			return err
		}
		remaining -= n
	}
	return f.Sync()
}
