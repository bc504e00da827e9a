package command

import (
	"strconv"

	"kvsrv/internal/protocol"
	"kvsrv/internal/session"
	"kvsrv/internal/value"
)

// cmdSync implements the master side of spec.md §4.10: reply with the
// dump byte count on its own inline line followed by the raw dump bytes,
// then flip the connection into a passive replication feed by flagging
// it SLAVE and registering it with the store.
func cmdSync(store Store, c *session.Client, argv [][]byte) {
	dump, err := store.FullSyncSnapshot()
	if err != nil {
		c.QueueReply(protocol.Err("ERR " + err.Error()))
		return
	}
	header := value.NewString([]byte(strconv.Itoa(len(dump)) + "\r\n"))
	c.QueueReply(header)
	c.QueueReply(value.NewString(dump))
	c.SetFlag(session.FlagSlave)
	store.RegisterSlave(c)
}
