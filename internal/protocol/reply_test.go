package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvsrv/internal/protocol"
	"kvsrv/internal/value"
)

func TestBulkReply(t *testing.T) {
	r := protocol.Bulk([]byte("hi"))
	assert.Equal(t, "2\r\nhi\r\n", string(r.Bytes()))
}

func TestBulkReplyNil(t *testing.T) {
	r := protocol.Bulk(nil)
	assert.Equal(t, "nil\r\n", string(r.Bytes()))
}

func TestParseBulkCount(t *testing.T) {
	n, ok := protocol.ParseBulkCount("12")
	require.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = protocol.ParseBulkCount("-1")
	assert.False(t, ok)

	_, ok = protocol.ParseBulkCount("not-a-number")
	assert.False(t, ok)

	_, ok = protocol.ParseBulkCount("2147483648000")
	assert.False(t, ok)
}

func TestCoalesceMergesSmallFragments(t *testing.T) {
	frags := []*value.Value{
		value.NewString([]byte("a")),
		value.NewString([]byte("b")),
		value.NewString([]byte("c")),
	}
	out := protocol.Coalesce(frags)
	require.Len(t, out, 1)
	assert.Equal(t, "abc", string(out[0].Bytes()))
}

func TestCoalesceLeavesLargeRunUntouched(t *testing.T) {
	big := make([]byte, 2000)
	frags := []*value.Value{value.NewString(big), value.NewString([]byte("tail"))}
	out := protocol.Coalesce(frags)
	assert.Len(t, out, 2)
}

func TestCoalesceSingleFragmentPassthrough(t *testing.T) {
	frags := []*value.Value{value.NewString([]byte("solo"))}
	out := protocol.Coalesce(frags)
	require.Len(t, out, 1)
	assert.Equal(t, "solo", string(out[0].Bytes()))
}

func TestSplitInlineLowercasesCommandName(t *testing.T) {
	fields := protocol.SplitInline([]byte("SET foo bar"))
	require.Len(t, fields, 3)
	assert.Equal(t, "set", string(fields[0]))
	assert.Equal(t, "foo", string(fields[1]))
}

func TestSplitInlineBlankLine(t *testing.T) {
	fields := protocol.SplitInline([]byte("   "))
	assert.Nil(t, fields)
}

func TestFindLineEnd(t *testing.T) {
	assert.Equal(t, 4, protocol.FindLineEnd([]byte("ping\nmore")))
	assert.Equal(t, -1, protocol.FindLineEnd([]byte("no newline here")))
}
