// Package session runs the per-connection read loop that splits incoming
// messages between the file-transfer engine and a free-text handler.
package session

import (
	"context"
	"net"

	"github.com/sheerbytes/filegate/pkg/protocol"
)

// Peer identifies the client a message came from.
type Peer struct {
	ID         string
	RemoteAddr net.Addr
	Transport  string
}

// Reply is a handler's answer. Close ends the session after Text is written.
type Reply struct {
	Text  string
	Close bool
}

// Handler answers free-text messages. Implementations must be safe for
// concurrent use; one handler serves every connection.
type Handler interface {
	Handle(ctx context.Context, peer Peer, msg string) Reply
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, peer Peer, msg string) Reply

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, peer Peer, msg string) Reply {
	return f(ctx, peer, msg)
}

// Echo replies "Echo: <msg>".
var Echo Handler = HandlerFunc(func(_ context.Context, _ Peer, msg string) Reply {
	return Reply{Text: protocol.EchoPrefix + msg + "\n"}
})
