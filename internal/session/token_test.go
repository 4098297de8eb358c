package session

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func TestGenerateSAS(t *testing.T) {
	t.Parallel()

	now := time.Unix(1556705430, 0)
	type Case struct {
		name   string
		uri    string
		key    string
		policy string
		expect string
		cause  error
	}
	cases := []Case{
		{"device", "hub.example.net/devices/tracker-01", testKey, "",
			"SharedAccessSignature sr=hub.example.net%2Fdevices%2Ftracker-01&sig=fFdqwiyo%2B7wyBevAdm4Jn3YxWsAeJIWsrttmrHZ9i8Y%3D&se=1556709030", nil},
		{"policy", "hub.example.net/devices/tracker-01", testKey, "device",
			"SharedAccessSignature sr=hub.example.net%2Fdevices%2Ftracker-01&sig=fFdqwiyo%2B7wyBevAdm4Jn3YxWsAeJIWsrttmrHZ9i8Y%3D&se=1556709030&skn=device", nil},
		{"too-long", "hub.example.net/devices/" + strings.Repeat("x", 500), testKey, "", "", ErrTokenTooLong},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			token, err := GenerateSAS(c.uri, c.key, c.policy, time.Hour, now)
			if c.cause != nil {
				require.Error(t, err)
				assert.Equal(t, c.cause, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, token)
			assert.LessOrEqual(t, len(token), MaxTokenLength)
		})
	}
}

func TestGenerateSASInvalidKey(t *testing.T) {
	t.Parallel()

	_, err := GenerateSAS("hub/devices/d", "not base64!", "", time.Hour, time.Now())
	assert.Error(t, err)
	_, err = GenerateSAS("hub/devices/d", "", "", time.Hour, time.Now())
	assert.True(t, errors.IsNotValid(err))
}

func TestGenerateSASFresh(t *testing.T) {
	t.Parallel()

	now := time.Unix(1556705430, 0)
	a, err := GenerateSAS("hub/devices/d", testKey, "", time.Hour, now)
	require.NoError(t, err)
	b, err := GenerateSAS("hub/devices/d", testKey, "", time.Hour, now.Add(time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Contains(t, b, "&se=1556709031")
}
