package logging

import (
	"io"
	"os"
	"strings"

	"kombat-farm-bot/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component names used as the "component" field on child loggers.
const (
	Service     = "service"
	Database    = "database"
	Kombat      = "kombat"
	Scheduler   = "scheduler"
	Autofarm    = "autofarm"
	Autoupgrade = "autoupgrade"
	Autosync    = "autosync"
	Bot         = "bot"
	Proxy       = "proxy"
	Ops         = "ops"
)

func Init(cfg config.LogConfig) {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// For returns a child of the global logger tagged with component.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
