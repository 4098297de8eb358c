package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/geotrack/cmd/geotrack/subcmd"
	"github.com/temoto/geotrack/internal/state"
	"github.com/temoto/geotrack/internal/tracker"
)

const versionKey = "run/version"

var Mod = subcmd.Mod{Name: "run", Usage: "tracker service", Main: Main}

func WithVersion(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, versionKey, v)
}

func Version(ctx context.Context) string {
	v, _ := ctx.Value(versionKey).(string)
	return v
}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()
	g.Log.Debugf("config=%+v", g.Config)

	tr, err := tracker.New(g)
	if err != nil {
		return errors.Annotate(err, "tracker init")
	}
	tr.Version = Version(ctx)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		s := <-sigch
		g.Log.Infof("signal=%v stopping", s)
		subcmd.SdNotify(daemon.SdNotifyStopping)
		g.Alive.Stop()
	}()

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("device=%s running", g.Config.DeviceID)
	err = tr.Run(ctx, g.Alive)
	g.Alive.Stop()
	g.Alive.Wait()
	return errors.Annotate(err, "tracker")
}
