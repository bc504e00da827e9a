package command

import (
	"kvsrv/internal/protocol"
	"kvsrv/internal/session"
	"kvsrv/internal/value"
)

func cmdSAdd(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	key := argv[0]
	v := db.Find(key)
	if v == nil {
		v = value.NewSet()
		db.Add(value.NewString(append([]byte(nil), key...)), v)
	} else if v.Tag() != value.Set {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	added := v.SetAdd(value.NewString(append([]byte(nil), argv[1]...)))
	if added {
		store.MarkDirty(1)
		c.QueueReply(protocol.One)
		return
	}
	c.QueueReply(protocol.Zero)
}

func cmdSRem(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.Zero)
		return
	}
	if v.Tag() != value.Set {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	if v.SetRemove(argv[1]) {
		store.MarkDirty(1)
		c.QueueReply(protocol.One)
		if v.Len() == 0 {
			db.Delete(argv[0])
			store.RecordKeyEvicted()
		}
		return
	}
	c.QueueReply(protocol.Zero)
}

func cmdSIsMember(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.Zero)
		return
	}
	if v.Tag() != value.Set {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	if v.SetContains(argv[1]) {
		c.QueueReply(protocol.One)
		return
	}
	c.QueueReply(protocol.Zero)
}

func cmdSCard(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.Zero)
		return
	}
	if v.Tag() != value.Set {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	c.QueueReply(protocol.Int(int64(v.Len())))
}

func cmdSMembers(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.Empty)
		return
	}
	if v.Tag() != value.Set {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	members := v.SetMembers()
	c.QueueReply(protocol.MultiBulkHeader(len(members)))
	for _, m := range members {
		c.QueueReply(protocol.Bulk(m.Bytes()))
	}
}
