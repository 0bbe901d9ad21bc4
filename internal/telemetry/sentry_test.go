package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_DisabledWithoutDSN(t *testing.T) {
	t.Parallel()

	r, err := NewReporter("", "test", "v1")
	require.NoError(t, err)
	assert.False(t, r.Enabled())

	assert.NotPanics(t, func() {
		r.Capture(fmt.Errorf("boom"))
		r.Flush(time.Millisecond)
	})

	var nilReporter *Reporter
	assert.NotPanics(t, func() { nilReporter.Capture(fmt.Errorf("boom")) })
}
