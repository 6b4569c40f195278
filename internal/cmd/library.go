package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/recordfile"
	"github.com/offlinefirst/inputreplay/pkg/store"
)

func newListCommand() command {
	return command{
		name:        "list",
		description: "List recordings in the library, newest first",
		run:         runList,
	}
}

func newExportCommand() command {
	return command{
		name:        "export",
		description: "Export a library recording to a JSONL file",
		configure: func(fs *flag.FlagSet) {
			fs.String("id", "", "Recording id or name")
			fs.String("out", "", "Destination file (default: <export_dir>/<id>.jsonl)")
		},
		run: runExport,
	}
}

func newImportCommand() command {
	return command{
		name:        "import",
		description: "Import a JSONL recording into the library",
		configure: func(fs *flag.FlagSet) {
			fs.String("file", "", "JSONL file to import")
			fs.String("name", "", "Override the recording name")
		},
		run: runImport,
	}
}

func newDeleteCommand() command {
	return command{
		name:        "delete",
		description: "Remove a recording from the library",
		configure: func(fs *flag.FlagSet) {
			fs.String("id", "", "Recording id or name")
		},
		run: runDelete,
	}
}

func runList(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	lib, err := openLibrary(app)
	if err != nil {
		return err
	}
	defer lib.Close()

	recordings, err := lib.List(context.Background())
	if err != nil {
		return err
	}
	if len(recordings) == 0 {
		fmt.Fprintln(stdout, "No recordings yet")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tEVENTS\tDURATION")
	for _, rec := range recordings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.Name, rec.CreatedAt.Local().Format(time.DateTime), rec.EventCount, rec.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func runExport(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	ref := stringFlag(fs, "id")
	if ref == "" {
		return errors.New("--id is required")
	}
	lib, err := openLibrary(app)
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx := context.Background()
	rec, err := lib.Resolve(ctx, ref)
	if err != nil {
		return fmt.Errorf("recording %q: %w", ref, err)
	}
	_, log, err := lib.Load(ctx, rec.ID)
	if err != nil {
		return err
	}

	out := stringFlag(fs, "out")
	if out == "" {
		out = filepath.Join(app.Config.Paths.ExportDir, rec.ID+".jsonl")
	}
	if err := recordfile.Export(out, recordfile.NewHeader(rec.ID, rec.Name, log), log); err != nil {
		return err
	}
	app.Logger.Info("recording exported", "id", rec.ID, "path", out, "events", log.Len())
	fmt.Fprintf(stdout, "Exported %d events to %s\n", log.Len(), out)
	return nil
}

func runImport(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	file := stringFlag(fs, "file")
	if file == "" {
		return errors.New("--file is required")
	}
	header, log, err := recordfile.Import(file)
	if err != nil {
		return err
	}
	name := stringFlag(fs, "name")
	if name == "" {
		name = header.Name
	}

	lib, err := openLibrary(app)
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx := context.Background()
	rec, err := lib.SaveWithID(ctx, header.ID, name, log)
	if errors.Is(err, store.ErrAlreadyExists) {
		app.Logger.Warn("recording id already in library; importing under a new id", "id", header.ID)
		rec, err = lib.Save(ctx, name, log)
	}
	if err != nil {
		return fmt.Errorf("import recording: %w", err)
	}
	fmt.Fprintf(stdout, "Imported %d events as %s (%s)\n", rec.EventCount, rec.ID, rec.Name)
	return nil
}

func runDelete(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	ref := stringFlag(fs, "id")
	if ref == "" {
		return errors.New("--id is required")
	}
	lib, err := openLibrary(app)
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx := context.Background()
	rec, err := lib.Resolve(ctx, ref)
	if err != nil {
		return fmt.Errorf("recording %q: %w", ref, err)
	}
	if err := lib.Delete(ctx, rec.ID); err != nil {
		return err
	}
	app.Logger.Info("recording deleted", "id", rec.ID)
	fmt.Fprintf(stdout, "Deleted %s (%s)\n", rec.ID, rec.Name)
	return nil
}
