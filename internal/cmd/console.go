package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/offlinefirst/inputreplay/pkg/capture"
	"github.com/offlinefirst/inputreplay/pkg/config"
	"github.com/offlinefirst/inputreplay/pkg/input"
	"github.com/offlinefirst/inputreplay/pkg/session"
)

const (
	keyInterrupt = 0x03
	keyQuit      = 'q'
)

var stdin io.Reader = os.Stdin

func newConsoleCommand() command {
	return command{
		name:        "console",
		description: "Drive recording and replay with single-key hotkeys",
		configure: func(fs *flag.FlagSet) {
			fs.String("save", "", "Save the final log to the library under this name on exit")
		},
		run: runConsole,
	}
}

// consoleSession is the controller surface the hotkey loop drives.
type consoleSession interface {
	SetRecord() error
	SetReplay() error
	StopReplay() error
	Subscribe() (<-chan session.Notification, func())
}

func runConsole(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(app, consoleHotkeys(app.Config.Console)...)
	if err != nil {
		return err
	}
	defer eng.Close()

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("enable raw terminal: %w", err)
		}
		defer term.Restore(int(f.Fd()), state)
	}

	if err := runConsoleLoop(ctx, stdin, stdout, eng.controller, app.Config.Console); err != nil {
		return err
	}

	name := stringFlag(fs, "save")
	if name == "" {
		return nil
	}
	if eng.controller.State() == session.Recording {
		if err := eng.controller.SetRecord(); err != nil {
			return err
		}
	}
	log := eng.controller.Log()
	if log == nil || log.Len() == 0 {
		fmt.Fprintln(stdout, "Nothing recorded; library unchanged")
		return nil
	}
	lib, err := openLibrary(app)
	if err != nil {
		return err
	}
	defer lib.Close()
	rec, err := lib.Save(context.Background(), name, log)
	if err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	fmt.Fprintf(stdout, "Saved %d events as %s (%s)\n", rec.EventCount, rec.ID, rec.Name)
	return nil
}

// consoleHotkeys returns the capture key codes of the console's keys.
func consoleHotkeys(keys config.ConsoleConfig) []input.KeyCode {
	return capture.HotkeyCodes(keys.RecordKey, keys.ReplayKey, keys.StopKey)
}

// runConsoleLoop maps keys read from in onto controller commands and echoes
// notifications to out until the quit key, EOF or ctx cancellation.
func runConsoleLoop(ctx context.Context, in io.Reader, out io.Writer, sess consoleSession, keys config.ConsoleConfig) error {
	notes, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	pressed := make(chan rune)
	readErr := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(in)
		for {
			r, _, err := reader.ReadRune()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case pressed <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	printf := func(format string, args ...any) {
		fmt.Fprintf(out, format+"\r\n", args...)
	}
	printf("[%s] record/stop recording  [%s] replay  [%s] stop replay  [q] quit",
		keys.RecordKey, keys.ReplayKey, keys.StopKey)

	drain := func() {
		for {
			select {
			case n, ok := <-notes:
				if !ok {
					return
				}
				printNotification(printf, n)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return nil
		case err := <-readErr:
			drain()
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read hotkeys: %w", err)
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			printNotification(printf, n)
		case r := <-pressed:
			key := strings.ToLower(string(r))
			var err error
			switch {
			case r == keyInterrupt || r == keyQuit:
				drain()
				return nil
			case key == keys.RecordKey:
				err = sess.SetRecord()
			case key == keys.ReplayKey:
				err = sess.SetReplay()
			case key == keys.StopKey:
				err = sess.StopReplay()
			default:
				continue
			}
			if err != nil {
				printf("! %v", err)
			}
		}
	}
}

func printNotification(printf func(string, ...any), n session.Notification) {
	switch n.Type {
	case session.NotifyStateChanged:
		printf("%s -> %s (%s)", n.Transition.From, n.Transition.To, n.Transition.Reason)
	case session.NotifyReplayFinished:
		if n.Result == nil {
			return
		}
		line := fmt.Sprintf("replay %s: %d replayed, %d failed", n.Result.Outcome, n.Result.Replayed, n.Result.Failed)
		if n.Result.Err != nil {
			line += ": " + n.Result.Err.Error()
		}
		printf("%s", line)
	case session.NotifyError:
		printf("! %v", n.Err)
	}
}
