// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sessionlog is the append-only per-session log file: one file per
// session rotated by {year}/{month}/{sessionId}.log, every line tagged with
// its stream. It is the durable history the SSE bridge replays from on
// reconnect-by-offset; the bus (internal/eventbus) only carries a bounded
// in-memory tail.
package sessionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agendo/workerd/internal/model"
)

// Stream tags a log line's origin.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamSystem Stream = "system"
	StreamUser   Stream = "user"
)

// maxLineLen truncates pathological single lines (e.g. a child process
// that never emits a newline) to bound memory, matching the teacher's
// captureOutput truncation threshold.
const maxLineLen = 1024 * 1024

// Writer owns one session's append-only log file. Single-writer discipline:
// only the supervisor holding the claim writes to it, and it is flushed and
// closed on exit.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// Open creates (or appends to, on resume) the log file for sessionID under
// logDir, rotated by {yyyy}/{mm}/{sessionId}.log.
func Open(logDir, sessionID string, now time.Time) (*Writer, error) {
	dir := filepath.Join(logDir, "sessions", fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".log")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	return &Writer{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the file path to persist on the session row.
func (w *Writer) Path() string { return w.path }

// WriteRaw appends a raw child-output line tagged with its stream.
func (w *Writer) WriteRaw(stream Stream, line string) error {
	if len(line) > maxLineLen {
		line = line[:maxLineLen] + "... [truncated]"
	}
	return w.writeLine(fmt.Sprintf("[%s] %s\n", stream, line))
}

// WriteEvent serializes a canonical event's body as "[<id>|<type>] <json>"
// under the system stream, matching §3's session-log-line format. It does
// not filter by type; the supervisor's emit skips delta events
// (agent:text-delta / agent:thinking-delta) before calling it, so only
// their subsequent complete form is durable (§4.6).
func (w *Writer) WriteEvent(ev model.AgendoEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event for log: %w", err)
	}
	line := fmt.Sprintf("[system] [%d|%s] %s\n", ev.ID, ev.Type, body)
	return w.writeLine(line)
}

func (w *Writer) writeLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("sessionlog: writer closed")
	}
	if _, err := w.w.WriteString(line); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.w.Flush()
	cerr := w.f.Close()
	w.f = nil
	if err != nil {
		return err
	}
	return cerr
}

// ReplaySince parses the log file at path and returns events with
// id > lastEventID, in file order. Used by the SSE bridge on reconnect
// when the bus's in-memory tail does not reach back to the request's
// since id.
func ReplaySince(path string, lastEventID int64) ([]model.AgendoEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open session log for replay: %w", err)
	}
	defer f.Close()

	var out []model.AgendoEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen+1024)
	for scanner.Scan() {
		line := scanner.Text()
		const prefix = "[system] ["
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := line[len(prefix):]
		bar := strings.IndexByte(rest, '|')
		if bar < 0 {
			continue
		}
		idStr := rest[:bar]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= lastEventID {
			continue
		}
		closeBracket := strings.IndexByte(rest, ']')
		if closeBracket < 0 || closeBracket+2 > len(rest) {
			continue
		}
		jsonBody := rest[closeBracket+2:]
		var ev model.AgendoEvent
		if err := json.Unmarshal([]byte(jsonBody), &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out, scanner.Err()
}
