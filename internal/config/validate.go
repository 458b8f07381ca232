package config

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

const (
	msgWatchPathNotFound = "watch path does not exist"
	msgWatchPathNotDir   = "watch path is not a directory"
	msgTargetNotFound    = "index target does not exist"
	msgFlowFileNotFound  = "flow file does not exist"
)

var (
	ErrWatchPathNotFound = ferrors.PathError(msgWatchPathNotFound).Build()
	ErrWatchPathNotDir   = ferrors.PathError(msgWatchPathNotDir).Build()
	ErrTargetNotFound    = ferrors.PathError(msgTargetNotFound).Build()
	ErrFlowFileNotFound  = ferrors.PathError(msgFlowFileNotFound).Build()
)

// Validate checks values that do not depend on the filesystem.
func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Mode.Watches() {
		if c.Watch.Path == "" {
			return invalid("watch.path is required in watch mode", "watch.path", "")
		}
		if c.Index.Target == "" {
			return invalid("index.target is required in watch mode", "index.target", "")
		}
		if c.Watch.Debounce < 0 {
			return invalid("watch.debounce must not be negative", "watch.debounce", c.Watch.Debounce.String())
		}
		if c.Watch.Buffer <= 0 {
			return invalid("watch.buffer must be positive", "watch.buffer", strconv.Itoa(c.Watch.Buffer))
		}
	}
	if c.Index.Command == "" {
		return invalid("index.command is required", "index.command", "")
	}
	if c.Index.Timeout <= 0 {
		return invalid("index.timeout must be positive", "index.timeout", c.Index.Timeout.String())
	}
	if c.Index.ProbeTimeout <= 0 {
		return invalid("index.probe_timeout must be positive", "index.probe_timeout", c.Index.ProbeTimeout.String())
	}
	if c.Index.ResyncInterval < 0 {
		return invalid("index.resync_interval must not be negative", "index.resync_interval", c.Index.ResyncInterval.String())
	}
	if c.Mode.RunsCompanion() {
		if c.Companion.Command == "" {
			return invalid("companion.command is required", "companion.command", "")
		}
		if c.Companion.FlowFile == "" {
			return invalid("companion.flow_file is required", "companion.flow_file", "")
		}
		if err := validateAddress("companion.address", c.Companion.Address); err != nil {
			return err
		}
		if c.Companion.GracePeriod < 0 {
			return invalid("companion.grace_period must not be negative", "companion.grace_period", c.Companion.GracePeriod.String())
		}
		if c.Companion.ReadyTimeout <= 0 {
			return invalid("companion.ready_timeout must be positive", "companion.ready_timeout", c.Companion.ReadyTimeout.String())
		}
	}
	if c.Admin.Address != "" {
		if err := validateAddress("admin.address", c.Admin.Address); err != nil {
			return err
		}
	}
	if c.Notify.NatsURL != "" && c.Notify.Subject == "" {
		return invalid("notify.subject is required when notify.nats_url is set", "notify.subject", "")
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown_timeout must be positive", "shutdown_timeout", c.ShutdownTimeout.String())
	}
	return nil
}

func invalid(msg, field, value string) error {
	return ferrors.ValidationError(msg).
		WithContext("field", field).
		WithContext("value", value).
		Build()
}

func validateAddress(field, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "address must be host:port").
			WithContext("field", field).
			WithContext("value", addr).
			Build()
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return invalid("address port must be between 0 and 65535", field, addr)
	}
	return nil
}

// Resolve makes paths absolute and checks that the ones the mode needs
// exist.
func (c *Config) Resolve() error {
	if c.Mode.Watches() {
		abs, err := filepath.Abs(c.Watch.Path)
		if err != nil {
			return pathErr(err, msgWatchPathNotFound, c.Watch.Path)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return pathErr(err, msgWatchPathNotFound, abs)
		}
		if !info.IsDir() {
			return ferrors.PathError(msgWatchPathNotDir).WithContext("path", abs).Build()
		}
		c.Watch.Path = abs

		target, err := filepath.Abs(c.Index.Target)
		if err != nil {
			return pathErr(err, msgTargetNotFound, c.Index.Target)
		}
		if _, err := os.Stat(target); err != nil {
			return pathErr(err, msgTargetNotFound, target)
		}
		c.Index.Target = target
	}
	if c.Mode.RunsCompanion() {
		flow, err := filepath.Abs(c.Companion.FlowFile)
		if err != nil {
			return pathErr(err, msgFlowFileNotFound, c.Companion.FlowFile)
		}
		if _, err := os.Stat(flow); err != nil {
			return pathErr(err, msgFlowFileNotFound, flow)
		}
		c.Companion.FlowFile = flow
	}
	return nil
}

func pathErr(err error, msg, path string) error {
	b := ferrors.WrapError(err, ferrors.CategoryPath, msg).WithContext("path", path)
	if errors.Is(err, fs.ErrNotExist) {
		b = b.UserAction()
	}
	return b.Build()
}
