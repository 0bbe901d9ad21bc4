package push

import (
	"context"
	"fmt"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/heavystatus/newsroom-edge/internal/clients"
	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// ClientDisplayer shows notifications in every connected window.
type ClientDisplayer struct {
	clients *clients.Registry
}

func NewClientDisplayer(reg *clients.Registry) *ClientDisplayer {
	return &ClientDisplayer{clients: reg}
}

func (d *ClientDisplayer) Name() string { return "clients" }

// Display broadcasts the notification. Having no window open is not an
// error; the notification stays in the active set until clicked.
func (d *ClientDisplayer) Display(_ context.Context, n Descriptor) error {
	d.clients.Broadcast(protocol.ShowNotification(n))
	return nil
}

// ShoutrrrDisplayer delivers notifications to shoutrrr service URLs (ntfy,
// gotify, telegram and the rest).
type ShoutrrrDisplayer struct {
	sender *router.ServiceRouter
	count  int
}

// NewShoutrrrDisplayer validates urls and builds a sender for them.
func NewShoutrrrDisplayer(urls []string) (*ShoutrrrDisplayer, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("shoutrrr displayer needs at least one service URL")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("invalid shoutrrr service URL: %w", err)
	}
	return &ShoutrrrDisplayer{sender: sender, count: len(urls)}, nil
}

func (d *ShoutrrrDisplayer) Name() string { return "shoutrrr" }

// Display sends the body with the title, appending the target URL so
// text-only services still link to the story.
func (d *ShoutrrrDisplayer) Display(ctx context.Context, n Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := types.Params{}
	params.SetTitle(n.Title)

	message := n.Body
	if n.URL != "" {
		message += "\n" + n.URL
	}

	var failed []error
	for _, err := range d.sender.Send(message, &params) {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("shoutrrr delivery failed for %d of %d services: %w",
			len(failed), d.count, errors.Join(failed...))
	}
	return nil
}
