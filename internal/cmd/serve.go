package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offlinefirst/inputreplay/pkg/config"
	"github.com/offlinefirst/inputreplay/pkg/control"
	"github.com/offlinefirst/inputreplay/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() command {
	return command{
		name:        "serve",
		description: "Run the recorder with the HTTP/WebSocket control surface",
		configure: func(fs *flag.FlagSet) {
			fs.String("addr", "", "Listen address (default: server.addr from config)")
			fs.String("allow-origin", "", "CORS origin to allow; \"*\" also accepts cross-origin WebSocket clients")
		},
		run: runServe,
	}
}

var listen = net.Listen

func runServe(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	addr := stringFlag(fs, "addr")
	if addr == "" {
		addr = app.Config.Server.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(app)
	if err != nil {
		return err
	}
	defer eng.Close()

	lib, err := openLibrary(app)
	if err != nil {
		return err
	}
	defer lib.Close()

	srv, err := control.New(control.Options{
		Session:     eng.controller,
		Library:     lib,
		Logger:      app.Logger,
		AllowOrigin: stringFlag(fs, "allow-origin"),
	})
	if err != nil {
		return err
	}

	ln, err := listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serve(ctx, app, srv, ln, stdout)
}

// serve runs the HTTP server until ctx is cancelled. When the configuration
// came from a file, edits to logging.level apply without a restart.
func serve(ctx context.Context, app *AppContext, srv *control.Server, ln net.Listener, stdout io.Writer) error {
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if app.Config.Source != config.Default().Source && app.Level != nil {
		g.Go(func() error {
			err := config.Watch(gctx, app.Config.Source, func(cfg config.Config) {
				if err := logging.SetLevel(app.Level, cfg.Logging.Level); err != nil {
					app.Logger.Warn("ignoring reloaded log level", "error", err)
					return
				}
				app.Logger.Info("configuration reloaded", "source", cfg.Source, "log_level", cfg.Logging.Level)
			}, func(err error) {
				app.Logger.Warn("configuration reload failed", "error", err)
			})
			if err != nil {
				app.Logger.Warn("configuration watch unavailable", "error", err)
			}
			return nil
		})
	}

	app.Logger.Info("control server listening", "addr", ln.Addr().String())
	fmt.Fprintf(stdout, "Listening on http://%s (WebSocket: /ws)\n", ln.Addr().String())

	if err := g.Wait(); err != nil {
		return err
	}
	app.Logger.Info("control server stopped")
	return nil
}

func stringFlag(fs *flag.FlagSet, name string) string {
	f := fs.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func boolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	getter, ok := f.Value.(flag.Getter)
	if !ok {
		return false
	}
	v, _ := getter.Get().(bool)
	return v
}
