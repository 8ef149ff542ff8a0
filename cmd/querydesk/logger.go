// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/logger"
)

const (
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFileEnvVar   = "LOG_FILE"
	LogFormatEnvVar = "LOG_FORMAT"
)

// initLogger installs the default logger. Priority: CLI flags, then
// environment, then defaults.
func initLogger(level, file, format string) (func(), error) {
	return applyLogger(
		firstNonEmpty(level, os.Getenv(LogLevelEnvVar), "info"),
		firstNonEmpty(file, os.Getenv(LogFileEnvVar)),
		firstNonEmpty(format, os.Getenv(LogFormatEnvVar), "simple"),
	)
}

// applyConfigLogger re-initializes logging from the config file for
// settings the CLI and environment left unset.
func applyConfigLogger(cli *CLI, cfg *config.LoggerConfig) (func(), error) {
	if cfg == nil {
		return nil, nil
	}
	return applyLogger(
		firstNonEmpty(cli.LogLevel, os.Getenv(LogLevelEnvVar), cfg.Level),
		firstNonEmpty(cli.LogFile, os.Getenv(LogFileEnvVar), cfg.File),
		firstNonEmpty(cli.LogFormat, os.Getenv(LogFormatEnvVar), cfg.Format),
	)
}

func applyLogger(levelName, file, format string) (func(), error) {
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output, cleanup = f, closeFn
	}
	logger.Init(level, output, format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
