package command

import (
	"strconv"
	"strings"

	"kvsrv/internal/protocol"
	"kvsrv/internal/session"
)

func cmdSave(store Store, c *session.Client, argv [][]byte) {
	if err := store.TriggerSave(); err != nil {
		c.QueueReply(protocol.Err("ERR " + err.Error()))
		return
	}
	c.QueueReply(protocol.OK)
}

func cmdBgSave(store Store, c *session.Client, argv [][]byte) {
	if err := store.TriggerBgSave(); err != nil {
		c.QueueReply(protocol.Err("ERR " + err.Error()))
		return
	}
	c.QueueReply(protocol.Status("Background saving started"))
}

func cmdLastSave(store Store, c *session.Client, argv [][]byte) {
	c.QueueReply(protocol.Int(store.LastSaveUnix()))
}

func cmdSlaveOf(store Store, c *session.Client, argv [][]byte) {
	host := string(argv[0])
	portArg := string(argv[1])
	if strings.EqualFold(host, "no") && strings.EqualFold(portArg, "one") {
		if err := store.SetReplicaOf("", 0, false); err != nil {
			c.QueueReply(protocol.Err("ERR " + err.Error()))
			return
		}
		c.QueueReply(protocol.OK)
		return
	}
	port, err := strconv.Atoi(portArg)
	if err != nil {
		c.QueueReply(protocol.ErrSyntax)
		return
	}
	if err := store.SetReplicaOf(host, port, true); err != nil {
		c.QueueReply(protocol.Err("ERR " + err.Error()))
		return
	}
	c.QueueReply(protocol.OK)
}

func cmdInfo(store Store, c *session.Client, argv [][]byte) {
	c.QueueReply(protocol.Bulk([]byte(store.Info())))
}
