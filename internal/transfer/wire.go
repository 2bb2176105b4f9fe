package transfer

import (
	"fmt"
	"io"

	"github.com/sheerbytes/filegate/pkg/protocol"
)

func writeFull(w io.Writer, p []byte) error {
	return protocol.WriteFull(w, p)
}

func writeString(w io.Writer, s string) error {
	if err := writeFull(w, []byte(s)); err != nil {
		return transportErr("write reply", err)
	}
	return nil
}

func readMessage(r io.Reader) (string, error) {
	msg, err := protocol.ReadMessage(r)
	if err != nil {
		return "", transportErr("read reply", err)
	}
	return msg, nil
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
