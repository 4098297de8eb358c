package console

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/geotrack/cmd/geotrack/queue"
	"github.com/temoto/geotrack/cmd/geotrack/subcmd"
	"github.com/temoto/geotrack/helpers/cli"
	"github.com/temoto/geotrack/internal/session"
	"github.com/temoto/geotrack/internal/state"
	"github.com/temoto/geotrack/internal/tracker"
	"github.com/temoto/geotrack/log2"
)

const usage = `syntax: command [args]
- fix          read location
- cycle        one sampling cycle, connects if due
- status       send status record now
- send         send queued records
- receive      wait for one hub message and apply it
- apply JSON   apply control message as if received from hub
- queue        print queued records
- geofences    print geofence list and current
- tunables     print periods
`

var Mod = subcmd.Mod{Name: "console", Usage: "interactive tracker control", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	tr, err := tracker.New(g)
	if err != nil {
		return errors.Annotate(err, "tracker init")
	}
	defer tr.Stop()
	if _, err := tr.Control.Restore(); err != nil {
		g.Log.Error(err)
	}

	cmds := NewCommands(g.Log, tr)
	cli.MainLoop("geotrack-console", cmds.Executor(ctx), cmds.Completer())
	g.Alive.Stop()
	return nil
}

type Func func(ctx context.Context, args string) error

// Commands is console action table.
type Commands struct {
	Log *log2.Log
	m   map[string]Func
}

func NewCommands(log *log2.Log, tr *tracker.Tracker) *Commands {
	self := &Commands{Log: log, m: make(map[string]Func)}
	self.Register("help", func(context.Context, string) error {
		log.Infof(usage)
		return nil
	})
	if tr == nil {
		return self
	}

	self.Register("fix", func(ctx context.Context, _ string) error {
		fix, err := tr.Locator.Fix(ctx)
		if err != nil {
			return err
		}
		log.Infof("%s", fix)
		return nil
	})
	self.Register("cycle", func(ctx context.Context, _ string) error {
		tr.Cycle(ctx)
		return nil
	})
	self.Register("status", func(ctx context.Context, _ string) error {
		tr.SendStatus(ctx)
		return nil
	})
	self.Register("send", func(ctx context.Context, _ string) error {
		n, err := tr.Session.SendAll(ctx, tr.Queue, tr.Window)
		log.Infof("sent=%d", n)
		return err
	})
	self.Register("receive", func(ctx context.Context, _ string) error {
		b, err := tr.Session.Receive(ctx, tr.Window)
		if errors.Cause(err) == session.ErrNoMessage {
			log.Infof("no message")
			return nil
		}
		if err != nil {
			return err
		}
		return self.apply(tr, b)
	})
	self.Register("apply", func(ctx context.Context, args string) error {
		if args == "" {
			return errors.NotValidf("apply: JSON argument")
		}
		return self.apply(tr, []byte(args))
	})
	self.Register("queue", func(ctx context.Context, _ string) error {
		_, err := queue.Print(os.Stdout, tr.Queue, false)
		return err
	})
	self.Register("geofences", func(ctx context.Context, _ string) error {
		defs := tr.Engine.Definitions()
		for i := range defs {
			log.Infof("%s", defs[i].String())
		}
		if d, ok := tr.Engine.Current(); ok {
			log.Infof("current=%d", d.ID)
		} else {
			log.Infof("current=none")
		}
		return nil
	})
	self.Register("tunables", func(ctx context.Context, _ string) error {
		gnss, connect := tr.Tunables.Snapshot()
		log.Infof("gnss_period=%ds connect_period=%ds configured=%t last_connect=%s",
			gnss, connect, tr.Tunables.Configured(), tr.LastConnect().Format(time.RFC3339))
		return nil
	})
	return self
}

func (self *Commands) apply(tr *tracker.Tracker, b []byte) error {
	r, err := tr.Control.Apply(b)
	if err != nil {
		return err
	}
	self.Log.Infof("type=%s applied=%v rejected=%v status=%t", r.Type, r.Applied, r.Rejected, r.StatusRequested)
	return nil
}

func (self *Commands) Register(name string, f Func) { self.m[name] = f }

func (self *Commands) List() []string {
	names := make([]string, 0, len(self.m))
	for name := range self.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exec runs single line. Empty line is no-op.
func (self *Commands) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, args := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		name, args = line[:i], strings.TrimSpace(line[i+1:])
	}
	f, ok := self.m[name]
	if !ok {
		return errors.NotFoundf("command=%s", name)
	}
	return errors.Annotate(f(ctx, args), name)
}

func (self *Commands) Executor(ctx context.Context) func(string) {
	return func(line string) {
		tbegin := time.Now()
		if err := self.Exec(ctx, line); err != nil {
			self.Log.Errorf(errors.ErrorStack(err))
			return
		}
		self.Log.Debugf("duration=%v", time.Since(tbegin))
	}
}

func (self *Commands) Completer() func(d prompt.Document) []prompt.Suggest {
	names := self.List()
	suggests := make([]prompt.Suggest, 0, len(names))
	for _, name := range names {
		suggests = append(suggests, prompt.Suggest{Text: name})
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}
