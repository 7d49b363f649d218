package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	// Valid is false for lines that are not JSON log records.
	Valid bool
}

// Filter selects entries for display. Zero values match everything.
type Filter struct {
	// Level is the minimum level shown.
	Level string
	// Event matches the message key exactly, e.g. "search_failed".
	Event   string
	Pattern *regexp.Regexp
	Since   time.Time
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Entry) bool {
	if f.Level != "" && e.Valid && ParseLevel(e.Level) < ParseLevel(f.Level) {
		return false
	}
	if f.Event != "" && e.Msg != f.Event {
		return false
	}
	if !f.Since.IsZero() && e.Valid && e.Time.Before(f.Since) {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// ParseEntry parses a JSON log line produced by slog's JSON handler.
func ParseEntry(line string) Entry {
	e := Entry{Raw: line}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return e
	}
	e.Valid = true
	if s, ok := m["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, s)
	}
	e.Level, _ = m["level"].(string)
	e.Msg, _ = m["msg"].(string)
	delete(m, "time")
	delete(m, "level")
	delete(m, "msg")
	e.Attrs = m
	return e
}

const maxLineBytes = 1 << 20

// Tail returns the matching entries among the last n lines of path.
func Tail(path string, n int, f Filter) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var out []Entry
	for _, line := range ring {
		if e := ParseEntry(line); f.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Follow streams matching entries appended to path after the call, until
// ctx is done. It polls every interval and reopens the file after rotation.
func Follow(ctx context.Context, path string, f Filter, interval time.Duration, out chan<- Entry) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	var partial strings.Builder

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			chunk, err := reader.ReadString('\n')
			offset += int64(len(chunk))
			partial.WriteString(chunk)
			if err != nil {
				break
			}
			line := strings.TrimRight(partial.String(), "\r\n")
			partial.Reset()
			if e := ParseEntry(line); f.Match(e) {
				select {
				case out <- e:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// Rotation leaves a shorter file at path.
		if info, err := os.Stat(path); err == nil && info.Size() < offset {
			_ = file.Close()
			if file, err = os.Open(path); err != nil {
				return fmt.Errorf("failed to reopen log file: %w", err)
			}
			offset = 0
			partial.Reset()
			reader.Reset(file)
		}
	}
}

// Format renders e on one line: time, level, message, then sorted attributes.
// colorLevel, when non-nil, styles the level column.
func Format(e Entry, colorLevel func(level, text string) string) string {
	if !e.Valid {
		return e.Raw
	}
	level := fmt.Sprintf("%-5s", strings.ToUpper(e.Level))
	if colorLevel != nil {
		level = colorLevel(e.Level, level)
	}

	var b strings.Builder
	b.WriteString(e.Time.Local().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}
