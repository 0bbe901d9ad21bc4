// Package push sends push payloads from the command line.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/heavystatus/newsroom-edge/cmd/cmdutil"
	edgepush "github.com/heavystatus/newsroom-edge/internal/push"
)

const publishTimeout = 15 * time.Second

// Command creates the push command group.
func Command(env *cmdutil.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push notification tools",
	}
	cmd.AddCommand(sendCommand(env), previewCommand(env))
	return cmd
}

type payloadFlags struct {
	title string
	body  string
	tag   string
	url   string
	raw   bool
}

func (f *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "notification title")
	cmd.Flags().StringVar(&f.body, "body", "", "notification body (HTML is flattened)")
	cmd.Flags().StringVar(&f.tag, "tag", "", "notification tag; a push with a shown tag replaces it")
	cmd.Flags().StringVar(&f.url, "url", "", "page opened on click")
	cmd.Flags().BoolVar(&f.raw, "stdin", false, "read the raw payload from stdin instead of flags")
}

func (f *payloadFlags) payload(in io.Reader) ([]byte, error) {
	if f.raw {
		return io.ReadAll(in)
	}
	fields := map[string]string{}
	for k, v := range map[string]string{"title": f.title, "body": f.body, "tag": f.tag, "url": f.url} {
		if v != "" {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

func sendCommand(env *cmdutil.Env) *cobra.Command {
	var flags payloadFlags
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish a push payload to the configured MQTT topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := env.Load()
			if err != nil {
				return err
			}
			payload, err := flags.payload(os.Stdin)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), publishTimeout)
			defer cancel()
			if err := edgepush.PublishMQTT(ctx, settings.Push.MQTT, payload); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s\n", len(payload), settings.Push.MQTT.Topic)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

// previewCommand shows the notification a payload would produce.
func previewCommand(env *cmdutil.Env) *cobra.Command {
	var flags payloadFlags
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the notification a payload produces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := env.Load()
			if err != nil {
				return err
			}
			payload, err := flags.payload(os.Stdin)
			if err != nil {
				return err
			}
			d := edgepush.ParsePayload(payload, settings.Push.Defaults, time.Now())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	flags.register(cmd)
	return cmd
}
