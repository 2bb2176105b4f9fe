package progress

import (
	"fmt"
	"strings"
	"time"
)

const barWidth = 24

// Line renders one progress line for label, e.g.
// "report.pdf [##########--------------]  41.7%  3.2 MB/s  ETA 00:00:12".
func Line(label string, s Stats) string {
	return fmt.Sprintf("%s %s %5.1f%%  %s / %s  %s  ETA %s",
		label,
		renderBar(s.Percent, barWidth),
		s.Percent,
		FormatBytes(s.Transferred),
		FormatBytes(s.Total),
		formatRate(s.RateBps),
		formatETA(s.ETA),
	)
}

// Summary renders the final line of a finished transfer.
func Summary(label string, s Stats) string {
	rate := 0.0
	if secs := s.Elapsed.Seconds(); secs > 0 {
		rate = float64(s.Transferred) / secs
	}
	return fmt.Sprintf("%s  %s in %s (%s)", label, FormatBytes(s.Transferred), formatElapsed(s.Elapsed), formatRate(rate))
}

func renderBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n uint64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	switch {
	case n >= g:
		return fmt.Sprintf("%.2f GiB", float64(n)/float64(g))
	case n >= m:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(m))
	case n >= k:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(k))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatRate(bps float64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	if bps >= g {
		return fmt.Sprintf("%.2f GB/s", bps/float64(g))
	}
	if bps >= m {
		return fmt.Sprintf("%.1f MB/s", bps/float64(m))
	}
	if bps >= k {
		return fmt.Sprintf("%.0f KB/s", bps/float64(k))
	}
	return fmt.Sprintf("%.0f B/s", bps)
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	return formatElapsed(d)
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "00:00:00"
	}
	secs := int(d.Seconds())
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
