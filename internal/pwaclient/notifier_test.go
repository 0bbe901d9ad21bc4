package pwaclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

func TestUpdateNotifier_ConfirmSendsThenReloads(t *testing.T) {
	t.Parallel()

	log := &syncLog{}
	transport := newFakeTransport(log)

	var offered []string
	n := newUpdateNotifier(func(v string) { offered = append(offered, v) }, func() { log.add("reload") })
	n.attach(transport)

	// The edge acknowledges asynchronously, like the real worker.
	transport.onSend = func(msg protocol.Message) {
		if msg.Type != protocol.TypeSkipWaiting {
			return
		}
		go func() {
			time.Sleep(10 * time.Millisecond)
			log.add("ack")
			n.Observe(protocol.Activated("v2"))
		}()
	}

	n.Observe(registration("v1", "v2"))
	require.Equal(t, []string{"v2"}, offered)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Confirm(ctx))

	assert.Equal(t, []string{"send SKIP_WAITING", "ack", "reload"}, log.all())
	assert.Equal(t, "v2", n.Controller())
	assert.Empty(t, n.Offered())
}

func TestUpdateNotifier_NoReloadWithoutAck(t *testing.T) {
	t.Parallel()

	log := &syncLog{}
	transport := newFakeTransport(log)
	n := newUpdateNotifier(nil, func() { log.add("reload") })
	n.attach(transport)
	n.Observe(registration("v1", "v2"))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	err := n.Confirm(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"send SKIP_WAITING"}, log.all())
}

func TestUpdateNotifier_NoReloadWhenSendFails(t *testing.T) {
	t.Parallel()

	log := &syncLog{}
	transport := newFakeTransport(log)
	transport.sendErr = errors.New("socket closed")
	n := newUpdateNotifier(nil, func() { log.add("reload") })
	n.attach(transport)
	n.Observe(registration("v1", "v2"))

	require.Error(t, n.Confirm(t.Context()))
	assert.Empty(t, log.all())
}

func TestUpdateNotifier_IgnoresAckForOtherVersion(t *testing.T) {
	t.Parallel()

	log := &syncLog{}
	transport := newFakeTransport(log)
	n := newUpdateNotifier(nil, func() { log.add("reload") })
	n.attach(transport)
	n.Observe(registration("v1", "v3"))

	transport.onSend = func(protocol.Message) {
		go func() {
			n.Observe(protocol.Activated("v2"))
			time.Sleep(10 * time.Millisecond)
			n.Observe(protocol.Activated("v3"))
		}()
	}

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Confirm(ctx))
	assert.Equal(t, []string{"send SKIP_WAITING", "reload"}, log.all())
}

func TestUpdateNotifier_OffersOncePerWaitingVersion(t *testing.T) {
	t.Parallel()

	var offered []string
	n := newUpdateNotifier(func(v string) { offered = append(offered, v) }, nil)

	n.Observe(registration("v1", "v2"))
	n.Observe(registration("v1", "v2"))
	n.Observe(registration("v1", ""))
	n.Observe(registration("v1", "v2"))
	n.Observe(registration("v1", "v3"))

	assert.Equal(t, []string{"v2", "v3"}, offered)
	assert.Equal(t, "v3", n.Offered())
}

func TestUpdateNotifier_NoOfferWithoutController(t *testing.T) {
	t.Parallel()

	var offered []string
	n := newUpdateNotifier(func(v string) { offered = append(offered, v) }, nil)

	// First install on a fresh page: nothing controls it yet.
	n.Observe(registration("", "v1"))
	assert.Empty(t, offered)

	n.Observe(protocol.Activated("v1"))
	n.Observe(registration("v1", "v2"))
	assert.Equal(t, []string{"v2"}, offered)
}

func TestUpdateNotifier_ConfirmPreconditions(t *testing.T) {
	t.Parallel()

	n := newUpdateNotifier(nil, nil)
	require.ErrorIs(t, n.Confirm(t.Context()), ErrNotRegistered)

	n.attach(newFakeTransport(nil))
	require.ErrorIs(t, n.Confirm(t.Context()), ErrNoUpdate)
}
