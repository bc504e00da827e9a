package command

import (
	"kvsrv/internal/protocol"
	"kvsrv/internal/session"
	"kvsrv/internal/value"
)

func cmdPing(store Store, c *session.Client, argv [][]byte) {
	if len(argv) == 0 {
		c.QueueReply(protocol.Pong)
		return
	}
	c.QueueReply(protocol.Bulk(argv[0]))
}

func cmdEcho(store Store, c *session.Client, argv [][]byte) {
	c.QueueReply(protocol.Bulk(argv[0]))
}

func cmdSelect(store Store, c *session.Client, argv [][]byte) {
	idx, ok := parseDBIndex(argv[0])
	if !ok || idx < 0 || idx >= store.NumDBs() {
		c.QueueReply(protocol.Err("ERR invalid DB index"))
		return
	}
	c.DBIndex = idx
	c.QueueReply(protocol.OK)
}

func cmdGet(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.NilBulk())
		return
	}
	if v.Tag() != value.String {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	c.QueueReply(protocol.Bulk(v.Bytes()))
}

// cmdSet and cmdSetnx share the insert-or-overwrite logic described in
// spec.md §4.7: set always succeeds and replies +OK; setnx replies 1/0
// depending on whether the key was previously absent, and never
// overwrites an existing value.
func cmdSet(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	key := value.NewString(append([]byte(nil), argv[0]...))
	val := value.NewString(argv[1])
	db.Replace(key, val)
	store.MarkDirty(1)
	c.QueueReply(protocol.OK)
}

func cmdSetnx(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	if db.Exists(argv[0]) {
		c.QueueReply(protocol.Zero)
		return
	}
	key := value.NewString(append([]byte(nil), argv[0]...))
	val := value.NewString(argv[1])
	db.Add(key, val)
	store.MarkDirty(1)
	c.QueueReply(protocol.One)
}

func cmdDel(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	var removed int64
	for _, k := range argv {
		if db.Delete(k) {
			removed++
		}
	}
	if removed > 0 {
		store.MarkDirty(int(removed))
	}
	c.QueueReply(protocol.Int(removed))
}

func cmdExists(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	if db.Exists(argv[0]) {
		c.QueueReply(protocol.One)
		return
	}
	c.QueueReply(protocol.Zero)
}

func cmdType(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.Status("none"))
		return
	}
	c.QueueReply(protocol.Status(v.Tag().String()))
}

func cmdDBSize(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	c.QueueReply(protocol.Int(int64(db.Size())))
}

func cmdFlushDB(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	db.Flush()
	store.MarkDirty(1)
	c.QueueReply(protocol.OK)
}

func cmdFlushAll(store Store, c *session.Client, argv [][]byte) {
	for i := 0; i < store.NumDBs(); i++ {
		store.DB(i).Flush()
	}
	store.MarkDirty(1)
	c.QueueReply(protocol.OK)
}

func parseDBIndex(b []byte) (int, bool) {
	n := 0
	if len(b) == 0 {
		return 0, false
	}
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
	}
	return n, true
}
