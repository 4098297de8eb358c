package state

import (
	"context"
	"testing"

	"github.com/temoto/geotrack/log2"
)

const TestConfigBase = `
device_id = "tracker-01"
hardware { mock = true }
hub { host = "127.0.0.1" scheme = "tcp" key = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=" }
`

// NewTestContext config is appended to TestConfigBase, persist.root is t.TempDir().
func NewTestContext(t testing.TB, confString string) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-base":   TestConfigBase + `persist { root = "` + t.TempDir() + `" }`,
		"test-inline": `include "test-base" {}` + "\n" + confString,
	})

	log := log2.NewTest(t, log2.LDebug)
	// log := log2.NewStderr(log2.LDebug) // useful with panics
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.MustInit(ctx, MustReadConfig(log, fs, "test-inline"))
	return ctx, g
}
