// Package logline renders a jsonrpc.TypedMessage as the plain-text log
// line format spec.md §6 defines for the external log writer: a sender
// arrow, the millisecond timestamp, and the message's compact JSON.
package logline

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aerijo/lspmitm/internal/jsonrpc"
)

// Format renders one TypedMessage as a single log line, without a
// trailing newline.
func Format(tm *jsonrpc.TypedMessage) string {
	var b strings.Builder

	b.WriteString(arrow(tm.Sender))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(tm.Timestamp.UnixMilli(), 10))
	b.WriteByte(' ')
	var compact bytes.Buffer
	if err := json.Compact(&compact, tm.JSON); err == nil {
		b.Write(compact.Bytes())
	} else {
		b.Write(tm.JSON)
	}

	return b.String()
}

// arrow returns the sender glyph spec.md §6 assigns to each direction:
// "<--" for Client->Server traffic, "-->" for Server->Client traffic.
func arrow(sender jsonrpc.Sender) string {
	if sender == jsonrpc.Client {
		return "<--"
	}
	return "-->"
}
