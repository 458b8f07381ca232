package config

import (
	"strings"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

// Mode selects which components run.
type Mode string

const (
	ModeWatch     Mode = "watch"
	ModeCompanion Mode = "companion"
	ModeBoth      Mode = "both"
)

// ParseMode accepts a mode name, case-insensitively. Empty input yields ModeWatch.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeWatch, nil
	case ModeWatch, ModeCompanion, ModeBoth:
		return m, nil
	default:
		return "", ferrors.ValidationError("invalid mode").
			WithContext("mode", raw).
			WithContext("valid", "watch, companion, both").
			Build()
	}
}

// Watches reports whether the mode runs the watcher and index trigger.
func (m Mode) Watches() bool { return m == ModeWatch || m == ModeBoth }

// RunsCompanion reports whether the mode runs the companion server.
func (m Mode) RunsCompanion() bool { return m == ModeCompanion || m == ModeBoth }
