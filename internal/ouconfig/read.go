package ouconfig

import (
	"os"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/telemetrylog"
)

// Read loads configuration from an ini file at filename, overlaying the
// [oucore] section onto Default(), matching config/read.go's
// defaultConfig-then-MapTo pattern. A missing file is not an error: the
// defaults apply, since capture_enabled defaults to false and the
// pipeline is inert until turned on.
func Read(logger *telemetrylog.Logger, filename string) (*Config, error) {
	conf := Default()

	if _, err := os.Stat(filename); err != nil {
		logger.PrintVerbose("ouconfig: no config file at %s, using defaults", filename)
		return conf, nil
	}

	file, err := ini.Load(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "ouconfig: loading %s", filename)
	}

	if err := file.Section("oucore").MapTo(conf); err != nil {
		return nil, errors.Wrapf(err, "ouconfig: mapping oucore section of %s", filename)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}
