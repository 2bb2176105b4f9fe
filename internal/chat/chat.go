// Package chat is the interactive message handler used by filegated. Keywords
// match anywhere in the message, checked in the order hello, time, help,
// quit/exit.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/sheerbytes/filegate/internal/session"
)

const (
	welcome = "Hello! Welcome to Socket Server with File Transfer!\n" +
		"File commands:\n" +
		"- FILE:LIST - List available files\n" +
		"- FILE:UPLOAD:filename:size - Upload a file\n" +
		"- FILE:DOWNLOAD:filename - Download a file\n"

	help = "Available commands:\n" +
		"- hello - Welcome message and file commands info\n" +
		"- time - Get server time\n" +
		"- help - Show this help\n" +
		"- quit/exit - Close connection\n" +
		"File transfer commands:\n" +
		"- FILE:LIST - List files on server\n" +
		"- FILE:UPLOAD:filename:size - Upload file to server\n" +
		"- FILE:DOWNLOAD:filename - Download file from server\n"

	goodbye = "Goodbye! Connection will be closed.\n"
)

// Handler answers chat keywords and echoes everything else.
type Handler struct {
	now func() time.Time
}

var _ session.Handler = (*Handler)(nil)

// New returns a handler using the wall clock.
func New() *Handler {
	return NewWithNow(time.Now)
}

// NewWithNow returns a handler with a custom time source (for tests).
func NewWithNow(now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{now: now}
}

// Handle implements session.Handler.
func (h *Handler) Handle(_ context.Context, _ session.Peer, msg string) session.Reply {
	switch {
	case strings.Contains(msg, "hello"):
		return session.Reply{Text: welcome}
	case strings.Contains(msg, "time"):
		return session.Reply{Text: "Current time: " + h.now().Format(time.ANSIC) + "\n"}
	case strings.Contains(msg, "help"):
		return session.Reply{Text: help}
	case strings.Contains(msg, "quit"), strings.Contains(msg, "exit"):
		return session.Reply{Text: goodbye, Close: true}
	default:
		return session.Reply{Text: "Echo your message: " + msg + "\nType 'help' for available commands\n"}
	}
}
