package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/geotrack/cmd/geotrack/console"
	"github.com/temoto/geotrack/cmd/geotrack/queue"
	"github.com/temoto/geotrack/cmd/geotrack/run"
	"github.com/temoto/geotrack/cmd/geotrack/subcmd"
	"github.com/temoto/geotrack/cmd/geotrack/token"
	"github.com/temoto/geotrack/internal/state"
	"github.com/temoto/geotrack/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
	token.Mod,
	queue.Mod,
	{Name: "version", Usage: "print version", Main: nil},
}

func main() {
	flagConfig := flag.String("config", "geotrack.hcl", "")
	flag.Usage = usage
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	if subcmd.SdNotify("start") {
		// under systemd, journald adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	}

	mod, err := subcmd.Parse(flag.Arg(0), modules)
	if err != nil {
		log.Error(err)
		flag.Usage()
		os.Exit(1)
	}
	if mod.Name == "version" {
		fmt.Printf("geotrack %s\n", BuildVersion)
		return
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if config.Log.Debug {
		log.SetLevel(log2.LDebug)
	}
	if config.Log.File != "" {
		flog := log2.NewFile(config.Log.File, config.Log.MaxSizeMB, 3, log.Level())
		log.Infof("log file=%s", config.Log.File)
		log = flog
	}
	log.Debugf("version=%s command=%s", BuildVersion, mod.Name)

	ctx, g := state.NewContext(log)
	ctx = run.WithVersion(ctx, BuildVersion)
	if err := mod.Main(ctx, config, flag.Args()[1:]); err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func usage() {
	names := make([]string, 0, len(modules))
	for _, m := range modules {
		names = append(names, fmt.Sprintf("  %-8s %s", m.Name, m.Usage))
	}
	fmt.Fprintf(flag.CommandLine.Output(), "usage: geotrack [-config=path] command [args]\ncommands:\n%s\n",
		strings.Join(names, "\n"))
	flag.PrintDefaults()
}
