package push

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavystatus/newsroom-edge/cmd/cmdutil"
)

func TestPayloadFlags(t *testing.T) {
	t.Parallel()

	f := payloadFlags{title: "Breaking", url: "/live"}
	b, err := f.payload(strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Breaking","url":"/live"}`, string(b))

	raw := payloadFlags{raw: true}
	b, err = raw.payload(strings.NewReader("plain text alert"))
	require.NoError(t, err)
	assert.Equal(t, "plain text alert", string(b))
}

func TestPreviewCommand(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "newsroom-edge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("site:\n  url: https://heavystatus.com\n"), 0o600))
	env := &cmdutil.Env{ConfigFile: func() string { return path }}

	cmd := previewCommand(env)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--title", "Markets", "--body", "<p>Stocks <b>up</b></p>"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), `"title": "Markets"`)
	assert.Contains(t, out.String(), `"url": "/today"`)
	assert.NotContains(t, out.String(), "<b>")
}
