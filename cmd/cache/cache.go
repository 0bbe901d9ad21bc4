// Package cache inspects and prunes the persistent cache partitions.
package cache

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/heavystatus/newsroom-edge/cmd/cmdutil"
	"github.com/heavystatus/newsroom-edge/internal/app"
	"github.com/heavystatus/newsroom-edge/internal/cachestore"
	"github.com/heavystatus/newsroom-edge/internal/conf"
)

// Command creates the cache command group.
func Command(env *cmdutil.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache partition tools",
	}
	cmd.AddCommand(listCommand(env), sweepCommand(env))
	return cmd
}

func listCommand(env *cmdutil.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List partitions and whether the configured release owns them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := env.Load()
			if err != nil {
				return err
			}
			storage, err := app.OpenStorage(settings)
			if err != nil {
				return err
			}
			defer storage.Close()

			names, err := storage.Names(cmd.Context())
			if err != nil {
				return err
			}
			active := settings.Release.CacheNames()
			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintf(out, "%-40s %s\n", name, partitionStatus(settings.Release, active, name))
			}
			return nil
		},
	}
}

func partitionStatus(r conf.Release, active []string, name string) string {
	for _, a := range active {
		if a == name {
			return "active"
		}
	}
	switch {
	case r.Owns(name):
		return "stale"
	case r.IsLegacy(name):
		return "legacy"
	default:
		return "foreign"
	}
}

// sweepCommand deletes what activation of the configured release would
// delete. Useful after a release was rolled back by hand.
func sweepCommand(env *cmdutil.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete stale and legacy partitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := env.Load()
			if err != nil {
				return err
			}
			storage, err := app.OpenStorage(settings)
			if err != nil {
				return err
			}
			defer storage.Close()

			origin, err := url.Parse(settings.Site.Origin())
			if err != nil {
				return err
			}
			m, err := cachestore.NewManager(settings.Release, storage, cachestore.Options{
				Origin: origin,
				Log:    env.Logger(settings),
			})
			if err != nil {
				return err
			}
			deleted, err := m.SweepStaleVersions(cmd.Context(), m.ActiveNames())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d partitions\n", len(deleted))
			for _, name := range deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
			}
			return nil
		},
	}
}
