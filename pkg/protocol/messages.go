package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Entry is one regular file in a listing.
type Entry struct {
	Name string
	Size uint64
}

var (
	// ErrMalformedReply indicates a server reply that does not follow the framing.
	ErrMalformedReply = errors.New("malformed reply")
)

// FormatList renders entries between the listing header and terminator.
func FormatList(entries []Entry) string {
	var b strings.Builder
	b.WriteString(ListHeader)
	for _, e := range entries {
		b.WriteString(e.Name)
		b.WriteString(Delimiter)
		b.WriteString(strconv.FormatUint(e.Size, 10))
		b.WriteByte('\n')
	}
	b.WriteString(ListTerminator)
	return b.String()
}

// ParseList is the inverse of FormatList. The name may itself contain ':'; the
// size is taken after the last one.
func ParseList(reply string) ([]Entry, error) {
	if !strings.HasPrefix(reply, ListHeader) {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedReply, strings.TrimSpace(ListHeader))
	}
	body := strings.TrimPrefix(reply, ListHeader)
	end := strings.Index(body, ListTerminator)
	if end < 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedReply, strings.TrimSpace(ListTerminator))
	}
	body = body[:end]

	entries := make([]Entry, 0)
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, Delimiter)
		if idx <= 0 {
			return nil, fmt.Errorf("%w: bad entry %q", ErrMalformedReply, line)
		}
		size, err := strconv.ParseUint(line[idx+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad size in %q", ErrMalformedReply, line)
		}
		entries = append(entries, Entry{Name: line[:idx], Size: size})
	}
	return entries, nil
}

// FileInfoLine announces the size of a download.
func FileInfoLine(size uint64) string {
	return FileInfoPrefix + strconv.FormatUint(size, 10) + "\n"
}

// ParseFileInfo extracts the size from a FILE_INFO line.
func ParseFileInfo(reply string) (uint64, error) {
	line := strings.TrimRight(reply, "\r\n")
	if !strings.HasPrefix(line, FileInfoPrefix) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedReply, line)
	}
	size, err := strconv.ParseUint(strings.TrimPrefix(line, FileInfoPrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad size in %q", ErrMalformedReply, line)
	}
	return size, nil
}

// ErrorLine formats a failure reply.
func ErrorLine(reason string) string {
	return ErrorPrefix + reason + "\n"
}

// SuccessLine formats a success reply.
func SuccessLine(msg string) string {
	return SuccessPrefix + msg + "\n"
}

// IsError reports whether a reply is a failure outcome.
func IsError(reply string) bool {
	return strings.HasPrefix(reply, ErrorPrefix)
}

// IsSuccess reports whether a reply is a success outcome.
func IsSuccess(reply string) bool {
	return strings.HasPrefix(reply, SuccessPrefix)
}

// ConfirmsReady reports whether a peer reply authorises a download to proceed.
func ConfirmsReady(reply string) bool {
	return strings.Contains(reply, Ready)
}
