package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/geotrack/internal/state"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	config := &state.Config{DeviceID: "tracker-01"}
	config.Hub.Host = "hub.example.net"
	config.Hub.Key = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
	now := time.Unix(1556705430, 0)

	s, err := Generate(config, 0, now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "SharedAccessSignature sr=hub.example.net%2Fdevices%2Ftracker-01&sig="), s)
	assert.True(t, strings.HasSuffix(s, "&se=1556709030"), s)

	config.Hub.Policy = "device"
	s, err = Generate(config, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s, "&se=1556705490&skn=device"), s)

	config.Hub.Key = "%"
	_, err = Generate(config, 0, now)
	assert.Error(t, err)
}
