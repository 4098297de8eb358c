package queue

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/geotrack/cmd/geotrack/subcmd"
	"github.com/temoto/geotrack/internal/queue"
	"github.com/temoto/geotrack/internal/state"
	"github.com/temoto/geotrack/tele"
)

var Mod = subcmd.Mod{Name: "queue", Usage: "print queued telemetry [-flush]", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	flush := fs.Bool("flush", false, "truncate queue after print")
	if err := fs.Parse(args); err != nil {
		return errors.Annotate(err, "queue")
	}
	if config.Persist.Root == "" {
		config.Persist.Root = state.DefaultPersistRoot
	}
	g.Config = config
	q, err := queue.Open(g.QueuePath(), g.Log)
	if err != nil {
		return err
	}
	defer q.Close()
	_, err = Print(os.Stdout, q, *flush)
	return err
}

// Print writes one line per record, invalid records are marked.
func Print(w io.Writer, q *queue.Queue, flush bool) (int, error) {
	s, err := q.StartDump()
	if err != nil {
		return 0, err
	}
	defer s.Stop()
	for {
		line, ok := s.Next()
		if !ok {
			break
		}
		if r, err := tele.ParseRecord(line); err != nil {
			fmt.Fprintf(w, "%d invalid %q\n", s.Read(), line)
		} else {
			fmt.Fprintf(w, "%d %s geofence=%d transition=%d enroute=%d lat=%.6f lon=%.6f container=%v\n",
				s.Read(), r.Timestamp, r.GeofenceNum, r.Transition, r.EnRoute, r.Latitude, r.Longitude, float64(r.ContainerTemp))
		}
	}
	if err := s.Err(); err != nil {
		return s.Read(), err
	}
	if flush {
		return s.Read(), s.Flush()
	}
	return s.Read(), nil
}
