// Package content checks the WPGraphQL content API.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/heavystatus/newsroom-edge/cmd/cmdutil"
	edgecontent "github.com/heavystatus/newsroom-edge/internal/content"
)

// Command creates the content command group.
func Command(env *cmdutil.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "WPGraphQL content API tools",
	}
	cmd.AddCommand(pingCommand(env), queryCommand(env))
	return cmd
}

func client(env *cmdutil.Env) (*edgecontent.Client, error) {
	settings, err := env.Load()
	if err != nil {
		return nil, err
	}
	return edgecontent.New(settings.Content.GraphQLURL, settings.Content.UserAgent, settings.Content.Timeout.Std())
}

func pingCommand(env *cmdutil.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the content API answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client(env)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := c.Ping(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s ok in %s\n", c.Endpoint(), time.Since(start).Round(time.Millisecond))
			return err
		},
	}
}

func queryCommand(env *cmdutil.Env) *cobra.Command {
	var vars string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "query QUERY",
		Short: "Run a GraphQL query and print the data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(env)
			if err != nil {
				return err
			}
			var variables map[string]any
			if vars != "" {
				if err := json.Unmarshal([]byte(vars), &variables); err != nil {
					return fmt.Errorf("invalid --vars: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			var out json.RawMessage
			if err := c.Query(ctx, args[0], variables, &out); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&vars, "vars", "", "query variables as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "query timeout")
	return cmd
}
