package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/charlesng35/careteam/pkg/logger"
)

// ConfigureLogging initialises the global logger. An empty level means info;
// an unknown one is rejected so a typo in server.log_level fails at startup.
func ConfigureLogging(level string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	if _, err := zapcore.ParseLevel(level); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}
	return logger.Init(level)
}
