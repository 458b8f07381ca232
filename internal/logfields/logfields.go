package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyReason     = "reason"
	KeyPath       = "path"
	KeyOp         = "op"
	KeyPID        = "pid"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyState      = "state"
	KeyMode       = "mode"
	KeyAddress    = "address"
	KeyCommand    = "command"
	KeyStream     = "stream"
	KeyStep       = "step"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr { return slog.String(KeyRunID, id) }
func Reason(r string) slog.Attr { return slog.String(KeyReason, r) }
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }
func Op(op string) slog.Attr { return slog.String(KeyOp, op) }
func PID(pid int) slog.Attr { return slog.Int(KeyPID, pid) }
func ExitCode(code int) slog.Attr { return slog.Int(KeyExitCode, code) }
func State(s string) slog.Attr { return slog.String(KeyState, s) }
func Mode(m string) slog.Attr { return slog.String(KeyMode, m) }
func Address(a string) slog.Attr { return slog.String(KeyAddress, a) }
func Command(c string) slog.Attr { return slog.String(KeyCommand, c) }
func Stream(s string) slog.Attr { return slog.String(KeyStream, s) }
func Step(s string) slog.Attr { return slog.String(KeyStep, s) }
func DurationMS(ms int64) slog.Attr { return slog.Int64(KeyDurationMS, ms) }
func Duration(d time.Duration) slog.Attr { return DurationMS(d.Milliseconds()) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
