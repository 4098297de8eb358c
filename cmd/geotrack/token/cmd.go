package token

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/geotrack/cmd/geotrack/subcmd"
	"github.com/temoto/geotrack/internal/session"
	"github.com/temoto/geotrack/internal/state"
	"github.com/temoto/geotrack/tele"
)

var Mod = subcmd.Mod{Name: "token", Usage: "print SAS token [-expiry=1h]", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	expiry := fs.Duration("expiry", 0, "token lifetime, default from config")
	if err := fs.Parse(args); err != nil {
		return errors.Annotate(err, "token")
	}
	s, err := Generate(config, *expiry, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}

func Generate(config *state.Config, expiry time.Duration, now time.Time) (string, error) {
	if expiry == 0 {
		expiry = time.Duration(config.Hub.TokenExpirySec) * time.Second
	}
	if expiry == 0 {
		expiry = session.DefaultTokenExpiry
	}
	uri := tele.ResourceURI(config.Hub.Host, config.DeviceID)
	s, err := session.GenerateSAS(uri, config.Hub.Key, config.Hub.Policy, expiry, now)
	return s, errors.Annotatef(err, "token resource=%s", uri)
}
