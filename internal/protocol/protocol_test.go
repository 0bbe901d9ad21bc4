package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireFormat(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(SkipWaiting())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SKIP_WAITING"}`, string(b))

	b, err = json.Marshal(Activated("v2"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SW_ACTIVATED","version":"v2"}`, string(b))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{"type":"NOTIFICATION_CLICK","tag":"breaking"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeNotificationClick, m.Type)
	assert.Equal(t, "breaking", m.Tag)

	_, err = Decode([]byte(`{"tag":"x"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
