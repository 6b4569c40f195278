package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/recordfile"
)

func newRecordCommand() command {
	return command{
		name:        "record",
		description: "Record input until Enter, Ctrl-C or --duration, then save it to the library",
		configure: func(fs *flag.FlagSet) {
			fs.Duration("duration", 0, "Stop recording automatically after this long (0 waits for Enter or Ctrl-C)")
			fs.String("name", "", "Name for the saved recording")
			fs.String("out", "", "Also export the recording to this JSONL file")
		},
		run: runRecord,
	}
}

func runRecord(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	duration, err := durationFlag(fs, "duration")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib, err := openLibrary(app)
	if err != nil {
		return err
	}
	defer lib.Close()

	eng, err := buildEngine(app)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.controller.SetRecord(); err != nil {
		return err
	}
	if duration > 0 {
		fmt.Fprintf(stdout, "Recording for %s (Enter or Ctrl-C stops early)\n", duration)
	} else {
		fmt.Fprintln(stdout, "Recording (Enter or Ctrl-C stops)")
	}

	waitForStop(ctx, duration)

	if err := eng.controller.SetRecord(); err != nil {
		return err
	}
	log := eng.controller.Log()
	stats := eng.capture.Stats()
	app.Logger.Info("recording finished", "events", log.Len(), "filtered", stats.Filtered, "rejected", stats.Rejected)
	if log.Len() == 0 {
		fmt.Fprintln(stdout, "Nothing recorded; library unchanged")
		return nil
	}

	rec, err := lib.Save(context.Background(), stringFlag(fs, "name"), log)
	if err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	fmt.Fprintf(stdout, "Saved %d events (%s) as %s (%s)\n", rec.EventCount, rec.Duration.Round(time.Millisecond), rec.ID, rec.Name)

	if out := stringFlag(fs, "out"); out != "" {
		if err := recordfile.Export(out, recordfile.NewHeader(rec.ID, rec.Name, log), log); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Exported: %s\n", out)
	}
	return nil
}

// waitForStop returns after duration elapses, a line arrives on stdin or ctx
// ends. End of input alone does not stop the wait.
func waitForStop(ctx context.Context, duration time.Duration) {
	line := make(chan struct{}, 1)
	go func() {
		if _, err := bufio.NewReader(stdin).ReadString('\n'); err == nil {
			line <- struct{}{}
		}
	}()

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
	case <-line:
	case <-timeout:
	}
}

func durationFlag(fs *flag.FlagSet, name string) (time.Duration, error) {
	f := fs.Lookup(name)
	if f == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Value.String())
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("--%s must not be negative", name)
	}
	return d, nil
}
