package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/playback"
	"github.com/offlinefirst/inputreplay/pkg/recordfile"
	"github.com/offlinefirst/inputreplay/pkg/session"
)

func newReplayCommand() command {
	return command{
		name:        "replay",
		description: "Replay a stored recording or a JSONL export and wait for the outcome",
		configure: func(fs *flag.FlagSet) {
			fs.String("id", "", "Recording id or name from the library")
			fs.String("file", "", "JSONL export to replay instead of a library recording")
			fs.Float64("speed", 0, "Speed multiplier (default: playback.speed from config)")
		},
		run: runReplay,
	}
}

func runReplay(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	ref, file := stringFlag(fs, "id"), stringFlag(fs, "file")
	if (ref == "") == (file == "") {
		return errors.New("exactly one of --id or --file is required")
	}
	speed, err := strconv.ParseFloat(stringFlag(fs, "speed"), 64)
	if err != nil {
		return fmt.Errorf("--speed: %w", err)
	}
	if speed != 0 {
		if err := playback.ValidateSpeed(speed); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, label, err := loadReplayLog(ctx, app, ref, file)
	if err != nil {
		return err
	}

	eng, err := buildEngine(app)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.controller.Load(log); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Replaying %s: %d events over %s\n", label, log.Len(), log.Duration())

	result, err := replayAndWait(ctx, eng.controller, speed)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Replay %s: %d replayed, %d failed\n", result.Outcome, result.Replayed, result.Failed)
	return result.Err
}

func loadReplayLog(ctx context.Context, app *AppContext, ref, file string) (*eventlog.Log, string, error) {
	if file != "" {
		header, log, err := recordfile.Import(file)
		if err != nil {
			return nil, "", err
		}
		return log, header.ID, nil
	}
	lib, err := openLibrary(app)
	if err != nil {
		return nil, "", err
	}
	defer lib.Close()
	rec, err := lib.Resolve(ctx, ref)
	if err != nil {
		return nil, "", fmt.Errorf("recording %q: %w", ref, err)
	}
	_, log, err := lib.Load(ctx, rec.ID)
	if err != nil {
		return nil, "", err
	}
	return log, rec.ID, nil
}

// replaySession is the controller surface replayAndWait drives.
type replaySession interface {
	SetReplaySpeed(speed float64) error
	StopReplay() error
	Subscribe() (<-chan session.Notification, func())
}

// replayAndWait starts a replay and blocks until its outcome is published.
// Cancelling ctx stops the replay and still reports the outcome.
func replayAndWait(ctx context.Context, sess replaySession, speed float64) (playback.Result, error) {
	notes, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	if err := sess.SetReplaySpeed(speed); err != nil {
		return playback.Result{}, err
	}

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			if err := sess.StopReplay(); err != nil {
				return playback.Result{}, err
			}
		case n, ok := <-notes:
			if !ok {
				return playback.Result{}, session.ErrClosed
			}
			if n.Type == session.NotifyReplayFinished && n.Result != nil {
				return *n.Result, nil
			}
		}
	}
}
