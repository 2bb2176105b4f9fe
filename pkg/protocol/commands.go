package protocol

import (
	"strconv"
	"strings"
)

// Action identifies the kind of file command.
type Action int

const (
	Invalid Action = iota
	List
	Upload
	Download
)

func (a Action) String() string {
	switch a {
	case List:
		return "list"
	case Upload:
		return "upload"
	case Download:
		return "download"
	default:
		return "invalid"
	}
}

// Command is a parsed FILE: line. Filename and Size are only meaningful for the
// actions that carry them; Reason is set only when Action is Invalid.
type Command struct {
	Action   Action
	Filename string
	Size     uint64
	Reason   string
}

// IsFileCommand reports whether msg is routed to the file-transfer engine.
func IsFileCommand(msg string) bool {
	return strings.HasPrefix(msg, CommandPrefix)
}

// ParseCommand splits a FILE: line into its action and arguments.
// It never touches the filesystem and does not sanitise filenames.
func ParseCommand(line string) Command {
	parts := strings.Split(line, Delimiter)
	if len(parts) < 2 || parts[1] == "" {
		return invalid(ReasonBadFormat)
	}

	switch parts[1] {
	case ActionList:
		return Command{Action: List}
	case ActionUpload:
		if len(parts) < 3 || parts[2] == "" {
			return invalid(ReasonBadFormat)
		}
		if len(parts) < 4 || parts[3] == "" {
			return invalid(ReasonSizeRequired)
		}
		if len(parts) > 4 {
			return invalid(ReasonBadFormat)
		}
		size, err := strconv.ParseUint(parts[3], 10, 64)
		if err != nil {
			return invalid(ReasonBadSize)
		}
		return Command{Action: Upload, Filename: parts[2], Size: size}
	case ActionDownload:
		if len(parts) < 3 || parts[2] == "" {
			return invalid(ReasonBadFormat)
		}
		return Command{Action: Download, Filename: parts[2]}
	default:
		return invalid(ReasonUnknownAction)
	}
}

func invalid(reason string) Command {
	return Command{Action: Invalid, Reason: reason}
}

// UploadLine formats the client request for an upload.
func UploadLine(name string, size uint64) string {
	return CommandPrefix + ActionUpload + Delimiter + name + Delimiter + strconv.FormatUint(size, 10)
}

// DownloadLine formats the client request for a download.
func DownloadLine(name string) string {
	return CommandPrefix + ActionDownload + Delimiter + name
}

// ListLine formats the client request for a listing.
func ListLine() string {
	return CommandPrefix + ActionList
}
