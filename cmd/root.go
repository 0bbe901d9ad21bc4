// Package cmd holds the newsroom-edge command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/heavystatus/newsroom-edge/cmd/cache"
	"github.com/heavystatus/newsroom-edge/cmd/cmdutil"
	"github.com/heavystatus/newsroom-edge/cmd/content"
	"github.com/heavystatus/newsroom-edge/cmd/push"
	"github.com/heavystatus/newsroom-edge/cmd/serve"
)

// RootCommand builds the command tree. Subcommands load settings lazily
// from the --config flag.
func RootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "newsroom-edge",
		Short:         "Offline-first edge for the newsroom site",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: search ./, ~/.config/newsroom-edge, /etc/newsroom-edge)")

	env := &cmdutil.Env{ConfigFile: func() string { return configFile }}

	rootCmd.AddCommand(
		serve.Command(env),
		push.Command(env),
		cache.Command(env),
		content.Command(env),
	)
	return rootCmd
}
