package command

import (
	"strconv"

	"kvsrv/internal/protocol"
	"kvsrv/internal/session"
	"kvsrv/internal/value"
)

func cmdLPush(store Store, c *session.Client, argv [][]byte) {
	pushList(store, c, argv, true)
}

func cmdRPush(store Store, c *session.Client, argv [][]byte) {
	pushList(store, c, argv, false)
}

func pushList(store Store, c *session.Client, argv [][]byte, front bool) {
	db := store.DB(c.DBIndex)
	key := argv[0]
	v := db.Find(key)
	if v == nil {
		v = value.NewList()
		db.Add(value.NewString(append([]byte(nil), key...)), v)
	} else if v.Tag() != value.List {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	v.ListPush(front, value.NewString(append([]byte(nil), argv[1]...)))
	store.MarkDirty(1)
	c.QueueReply(protocol.Int(int64(v.Len())))
}

func cmdLPop(store Store, c *session.Client, argv [][]byte) {
	popList(store, c, argv, true)
}

func cmdRPop(store Store, c *session.Client, argv [][]byte) {
	popList(store, c, argv, false)
}

func popList(store Store, c *session.Client, argv [][]byte, front bool) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.NilBulk())
		return
	}
	if v.Tag() != value.List {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	elem := v.ListPop(front)
	if elem == nil {
		c.QueueReply(protocol.NilBulk())
		return
	}
	store.MarkDirty(1)
	c.QueueReply(protocol.Bulk(elem.Bytes()))
	value.Release(elem)
	if v.Len() == 0 {
		db.Delete(argv[0])
		store.RecordKeyEvicted()
	}
}

func cmdLLen(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.Zero)
		return
	}
	if v.Tag() != value.List {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	c.QueueReply(protocol.Int(int64(v.Len())))
}

func cmdLRange(store Store, c *session.Client, argv [][]byte) {
	db := store.DB(c.DBIndex)
	v := db.Find(argv[0])
	if v == nil {
		c.QueueReply(protocol.NilMultiBulk())
		return
	}
	if v.Tag() != value.List {
		c.QueueReply(protocol.ErrWrongType)
		return
	}
	startI, errA := strconv.Atoi(string(argv[1]))
	stopI, errB := strconv.Atoi(string(argv[2]))
	if errA != nil || errB != nil {
		c.QueueReply(protocol.ErrOutOfRange)
		return
	}
	elems := v.ListRange(startI, stopI)
	c.QueueReply(protocol.MultiBulkHeader(len(elems)))
	for _, e := range elems {
		c.QueueReply(protocol.Bulk(e.Bytes()))
	}
}
