package config

import (
	"os"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

const exampleHeader = `# indexwatch configuration
# Durations use Go syntax (2s, 500ms, 5m). ${VAR} references are expanded
# from the environment and .env files.
`

// Init writes an example configuration file to path. An existing file is
// only replaced when force is set.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists").
			WithContext("path", path).
			WithContext("hint", "use --force to overwrite").
			Build()
	}

	example := Defaults()
	example.Watch.Path = "./docs"
	example.Watch.Ignore = []string{"*.log", "build/"}
	example.Index.Target = "./main.py"

	data, err := Marshal(example)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal config").Build()
	}
	if err := os.WriteFile(path, append([]byte(exampleHeader), data...), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to write config file").
			WithContext("path", path).
			Build()
	}
	return nil
}
