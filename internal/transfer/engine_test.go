package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sheerbytes/filegate/internal/logging"
	"github.com/sheerbytes/filegate/pkg/protocol"
)

// startExecute runs cmd on the server end of a pipe and returns the client end.
func startExecute(t *testing.T, e *Engine, cmd protocol.Command) (net.Conn, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() {
		done <- e.Execute(ctx, server, cmd)
	}()
	return client, done
}

func readExactly(t *testing.T, r io.Reader, n int) string {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("Failed to read %d bytes: %v", n, err)
	}
	return string(buf)
}

func readOnce(t *testing.T, r io.Reader) string {
	t.Helper()
	buf := make([]byte, protocol.MessageBufferSize)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}
	return string(buf[:n])
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Execute did not return")
		return nil
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("Failed to generate random data: %v", err)
	}
	return data
}

func TestListEmptyRoot(t *testing.T) {
	e := NewEngine(t.TempDir(), logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.List})

	want := "FILE_LIST:\nEND_LIST\n"
	if got := readExactly(t, client, len(want)); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.List})

	want := "FILE_LIST:\nEND_LIST\n"
	if got := readExactly(t, client, len(want)); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatal("LIST must not create the root")
	}
}

func TestListSortedRegularFilesOnly(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("bbb"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.List})

	want := "FILE_LIST:\na.txt:1\nb.txt:3\nEND_LIST\n"
	if got := readExactly(t, client, len(want)); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUploadWritesFile(t *testing.T) {
	root := t.TempDir()
	e := NewEngine(root, logging.Discard())
	data := randomBytes(t, 3*protocol.ChunkSize+123)

	client, done := startExecute(t, e, protocol.Command{Action: protocol.Upload, Filename: "up.bin", Size: uint64(len(data))})

	if got := readOnce(t, client); got != "READY\n" {
		t.Fatalf("expected READY, got %q", got)
	}
	if _, err := client.Write(data); err != nil {
		t.Fatalf("Failed to write data: %v", err)
	}
	if got := readOnce(t, client); got != "SUCCESS: File uploaded successfully\n" {
		t.Fatalf("unexpected reply %q", got)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "up.bin"))
	if err != nil {
		t.Fatalf("Failed to read uploaded file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("uploaded content does not match")
	}
	if n := e.chunks.Outstanding(); n != 0 {
		t.Fatalf("expected all chunk buffers returned, %d outstanding", n)
	}
}

func TestUploadZeroBytes(t *testing.T) {
	root := t.TempDir()
	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Upload, Filename: "empty", Size: 0})

	if got := readOnce(t, client); got != "READY\n" {
		t.Fatalf("expected READY, got %q", got)
	}
	if got := readOnce(t, client); got != "SUCCESS: File uploaded successfully\n" {
		t.Fatalf("unexpected reply %q", got)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "empty"))
	if err != nil || info.Size() != 0 {
		t.Fatalf("expected empty file, got %v %v", info, err)
	}
}

func TestUploadTruncatesExisting(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("a much longer previous content"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Upload, Filename: "f.txt", Size: 3})
	readOnce(t, client)
	if _, err := client.Write([]byte("new")); err != nil {
		t.Fatal(err)
	}
	readOnce(t, client)
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "new" {
		t.Fatalf("expected truncated content, got %q", got)
	}
}

func TestUploadAbortRemovesPartialFile(t *testing.T) {
	root := t.TempDir()
	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Upload, Filename: "partial.bin", Size: 1000})

	if got := readOnce(t, client); got != "READY\n" {
		t.Fatalf("expected READY, got %q", got)
	}
	if _, err := client.Write(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	client.Close()

	err := waitResult(t, done)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, ErrTransport) {
		t.Fatalf("expected aborted transport error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "partial.bin")); !os.IsNotExist(err) {
		t.Fatal("partial file must be removed")
	}
	if n := e.chunks.Outstanding(); n != 0 {
		t.Fatalf("expected all chunk buffers returned, %d outstanding", n)
	}
}

func TestUploadOpenFailureSkipsReady(t *testing.T) {
	root := t.TempDir()
	// a directory occupies the target name
	if err := os.MkdirAll(filepath.Join(root, "taken"), 0755); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Upload, Filename: "taken", Size: 10})

	if got := readOnce(t, client); got != "ERROR: File upload failed\n" {
		t.Fatalf("expected upload failure, got %q", got)
	}
	if err := waitResult(t, done); err == nil {
		t.Fatal("expected error")
	}
}

func TestUploadTraversalStaysUnderRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "root")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Upload, Filename: "../escape.txt", Size: 2})
	readOnce(t, client)
	if _, err := client.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	readOnce(t, client)
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(base, "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("file escaped the root")
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); err != nil {
		t.Fatalf("expected file inside root: %v", err)
	}
}

func TestDownloadStreamsFile(t *testing.T) {
	root := t.TempDir()
	data := randomBytes(t, 2*protocol.ChunkSize+77)
	if err := os.WriteFile(filepath.Join(root, "down.bin"), data, 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Download, Filename: "down.bin"})

	info := readOnce(t, client)
	size, err := protocol.ParseFileInfo(info)
	if err != nil {
		t.Fatalf("Failed to parse %q: %v", info, err)
	}
	if size != uint64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), size)
	}
	if _, err := client.Write([]byte("READY")); err != nil {
		t.Fatal(err)
	}
	got := readExactly(t, client, len(data))
	if got != string(data) {
		t.Fatal("downloaded content does not match")
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// nothing follows the raw bytes
	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if n, _ := client.Read(make([]byte, 16)); n != 0 {
		t.Fatalf("expected no trailer, got %d bytes", n)
	}
	if n := e.chunks.Outstanding(); n != 0 {
		t.Fatalf("expected all chunk buffers returned, %d outstanding", n)
	}
}

func TestDownloadWithoutReadySendsNoData(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Download, Filename: "f.txt"})

	if got := readOnce(t, client); got != "FILE_INFO:6\n" {
		t.Fatalf("unexpected info %q", got)
	}
	if _, err := client.Write([]byte("NOPE")); err != nil {
		t.Fatal(err)
	}
	if got := readOnce(t, client); got != "ERROR: File not found or download failed\n" {
		t.Fatalf("unexpected reply %q", got)
	}
	if err := waitResult(t, done); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	e := NewEngine(t.TempDir(), logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Download, Filename: "nope.txt"})

	if got := readOnce(t, client); got != "ERROR: File not found or download failed\n" {
		t.Fatalf("unexpected reply %q", got)
	}
	if err := waitResult(t, done); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDownloadDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Download, Filename: "dir"})

	if got := readOnce(t, client); got != "ERROR: File not found or download failed\n" {
		t.Fatalf("unexpected reply %q", got)
	}
	if err := waitResult(t, done); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidCommandTouchesNothing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	e := NewEngine(root, logging.Discard())

	cases := []protocol.Command{
		protocol.ParseCommand("FILE:"),
		protocol.ParseCommand("FILE:DELETE:x"),
		protocol.ParseCommand("FILE:UPLOAD:x"),
		{Action: protocol.Invalid},
	}
	for _, cmd := range cases {
		client, done := startExecute(t, e, cmd)
		want := "ERROR: " + protocol.ReasonBadFormat + "\n"
		if cmd.Reason != "" {
			want = protocol.ErrorLine(cmd.Reason)
		}
		if got := readOnce(t, client); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
		if err := waitResult(t, done); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("expected ErrInvalidCommand, got %v", err)
		}
	}

	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatal("invalid commands must not touch the filesystem")
	}
}

func TestUploadDiskErrorDrainsAndKeepsSession(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs /dev/full")
	}
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skipf("no /dev/full: %v", err)
	}

	root := t.TempDir()
	target := filepath.Join(root, "full")
	if err := os.Symlink("/dev/full", target); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	e := NewEngine(root, logging.Discard())
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data := randomBytes(t, 3*protocol.ChunkSize+5)
	results := make(chan error, 2)
	go func() {
		results <- e.Execute(ctx, server, protocol.Command{Action: protocol.Upload, Filename: "full", Size: uint64(len(data))})
		results <- e.Execute(ctx, server, protocol.Command{Action: protocol.List})
	}()

	if got := readOnce(t, client); got != "READY\n" {
		t.Fatalf("expected READY, got %q", got)
	}
	// every declared byte is consumed even though the disk rejects them
	if _, err := client.Write(data); err != nil {
		t.Fatalf("Failed to write data: %v", err)
	}
	want := protocol.ErrorLine(protocol.MsgUploadFailed)
	if got := readExactly(t, client, len(want)); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	err := waitResult(t, results)
	if err == nil || errors.Is(err, ErrAborted) || errors.Is(err, ErrTransport) {
		t.Fatalf("expected a disk error that keeps the session, got %v", err)
	}
	if _, err := os.Lstat(target); !os.IsNotExist(err) {
		t.Fatalf("expected target removed, got %v", err)
	}

	listing := readExactly(t, client, len(protocol.FormatList(nil)))
	entries, err := protocol.ParseList(listing)
	if err != nil {
		t.Fatalf("Failed to parse listing %q: %v", listing, err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty listing, got %v", entries)
	}
	if err := waitResult(t, results); err != nil {
		t.Fatalf("unexpected LIST error: %v", err)
	}
}

func TestDownloadAbortsWhenClientGoesAway(t *testing.T) {
	root := t.TempDir()
	data := randomBytes(t, 4*protocol.ChunkSize)
	if err := os.WriteFile(filepath.Join(root, "big.bin"), data, 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Download, Filename: "big.bin"})

	if got := readOnce(t, client); got != "FILE_INFO:32768\n" {
		t.Fatalf("unexpected info %q", got)
	}
	if _, err := client.Write([]byte("READY")); err != nil {
		t.Fatal(err)
	}
	if got := readExactly(t, client, protocol.ChunkSize); got != string(data[:protocol.ChunkSize]) {
		t.Fatal("first chunk does not match")
	}
	client.Close()

	err := waitResult(t, done)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, ErrTransport) {
		t.Fatalf("expected aborted transport error, got %v", err)
	}
	if n := e.chunks.Outstanding(); n != 0 {
		t.Fatalf("expected all chunk buffers returned, %d outstanding", n)
	}
}

func TestDownloadAbortsWhenFileShrinks(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "shrink.bin")
	data := randomBytes(t, 3*protocol.ChunkSize)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(root, logging.Discard())
	client, done := startExecute(t, e, protocol.Command{Action: protocol.Download, Filename: "shrink.bin"})

	if got := readOnce(t, client); got != "FILE_INFO:24576\n" {
		t.Fatalf("unexpected info %q", got)
	}
	kept := protocol.ChunkSize + 10
	if err := os.Truncate(path, int64(kept)); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}
	if _, err := client.Write([]byte("READY")); err != nil {
		t.Fatal(err)
	}
	if got := readExactly(t, client, kept); got != string(data[:kept]) {
		t.Fatal("streamed prefix does not match")
	}

	err := waitResult(t, done)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Fatalf("shrinking is not a transport failure: %v", err)
	}
}

func TestEmptyTransfersLogCompletion(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "zero.txt"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	e := NewEngine(root, logging.NewWithWriter(&logs, "test", "debug"))

	client, done := startExecute(t, e, protocol.Command{Action: protocol.Upload, Filename: "up-zero.txt", Size: 0})
	readOnce(t, client)
	readOnce(t, client)
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}

	client, done = startExecute(t, e, protocol.Command{Action: protocol.Download, Filename: "zero.txt"})
	if got := readOnce(t, client); got != "FILE_INFO:0\n" {
		t.Fatalf("unexpected info %q", got)
	}
	if _, err := client.Write([]byte("READY")); err != nil {
		t.Fatal(err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected download error: %v", err)
	}

	out := logs.String()
	for _, want := range []string{"op=upload file=up-zero.txt", "op=download file=zero.txt"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing progress record %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "transfer progress") != 2 {
		t.Errorf("expected two progress records, got:\n%s", out)
	}
}
