package protocol

import "io"

// WriteFull writes all of p, retrying short writes. A writer that makes no
// progress yields io.ErrShortWrite.
func WriteFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// ReadMessage performs one read of at most MessageBufferSize bytes. Messages
// are not reassembled across reads.
func ReadMessage(r io.Reader) (string, error) {
	buf := make([]byte, MessageBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			return string(buf[:n]), nil
		}
		if err != nil {
			return "", err
		}
	}
}
