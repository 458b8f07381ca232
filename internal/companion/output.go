package companion

import (
	"bytes"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/indexwatch/internal/logfields"
)

// DefaultTailLines is how many output lines are kept for crash reports.
const DefaultTailLines = 50

const maxLineBytes = 64 * 1024

// lineTail is a ring of the most recent output lines from both streams.
type lineTail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newLineTail(n int) *lineTail {
	if n <= 0 {
		n = DefaultTailLines
	}
	return &lineTail{lines: make([]string, n)}
}

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the kept lines, oldest first.
func (t *lineTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}

// lineWriter forwards complete lines to the log and the tail. exec copies
// the child's output into it on its own goroutine, so the pipe is drained
// while the supervisor waits for exit.
type lineWriter struct {
	stream string
	logger *slog.Logger
	tail   *lineTail

	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
}

func (w *lineWriter) emit(line string) {
	w.tail.add(line)
	w.logger.Info("Companion output", logfields.Stream(w.stream), slog.String("line", line))
}
