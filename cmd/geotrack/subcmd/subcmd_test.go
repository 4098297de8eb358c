package subcmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/geotrack/internal/state"
)

func TestParse(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *state.Config, []string) error { return nil }
	mods := []Mod{{Name: "run", Main: noop}, {Name: "token", Main: noop}}
	type Case struct {
		command   string
		expect    string
		expectErr string
	}
	cases := []Case{
		{"run", "run", ""},
		{"token", "token", ""},
		{"", "", "empty command"},
		{"fly", "", "unknown command='fly'"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.command, func(t *testing.T) {
			t.Parallel()
			m, err := Parse(c.command, mods)
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, m.Name)
		})
	}
	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Main: noop}}) })
}
