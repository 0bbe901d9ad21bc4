// Package cmdutil carries what every subcommand needs: the config file
// chosen on the command line and a logger built from it.
package cmdutil

import (
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/logger"
)

// Env is shared by all subcommands. ConfigFile is read at run time, after
// flags are parsed.
type Env struct {
	ConfigFile func() string
}

// Loader returns a loader for the selected config file.
func (e *Env) Loader() *conf.Loader {
	return conf.NewLoader(e.ConfigFile())
}

// Load reads settings once.
func (e *Env) Load() (*conf.Settings, error) {
	return e.Loader().Load()
}

// Logger builds the process logger from settings.
func (e *Env) Logger(s *conf.Settings) logger.Logger {
	return logger.NewStdout(logger.ParseLevel(s.Main.LogLevel), s.Main.LogEncoding)
}
