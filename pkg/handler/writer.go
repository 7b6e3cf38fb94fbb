package handler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/comet/pkg/log"
	"github.com/cuemby/comet/pkg/types"
)

// filenamePad is appended to a filename until it no longer collides
const filenamePad = "_"

// EventWriter saves every accepted event to a directory, one file per event
type EventWriter struct {
	dir    string
	logger zerolog.Logger
}

// NewEventWriter returns a writer that saves into dir, or the working
// directory when dir is empty
func NewEventWriter(dir string) *EventWriter {
	if dir == "" {
		dir = "."
	}
	return &EventWriter{
		dir:    dir,
		logger: log.WithComponent("save-event"),
	}
}

func (w *EventWriter) Name() string { return "save-event" }

// Dir returns the directory events are written to
func (w *EventWriter) Dir() string {
	return w.dir
}

// Handle writes ev.Raw to a file named after the IVORN. Existing files are
// never overwritten.
func (w *EventWriter) Handle(_ context.Context, ev *types.Event) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create event directory: %w", err)
	}

	f, err := w.create(FilenameFor(ev.IVORN))
	if err != nil {
		return err
	}

	if _, err := f.Write(ev.Raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close event file: %w", err)
	}

	w.logger.Debug().Str("ivorn", ev.IVORN).Str("path", f.Name()).Msg("Event saved")
	return nil
}

// create opens a new file for name, padding the name until it is unused.
// O_EXCL keeps two writers from claiming the same path.
func (w *EventWriter) create(name string) (*os.File, error) {
	path := filepath.Join(w.dir, name)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create event file: %w", err)
		}
		path += filenamePad
	}
}

// FilenameFor turns an IVORN into a safe filename: path separators become
// underscores, anything outside letters, digits, underscore and dot is
// dropped, and a leading dot is removed.
func FilenameFor(ivorn string) string {
	ivorn = strings.TrimPrefix(ivorn, ".")
	ivorn = strings.NewReplacer("/", "_", "\\", "_").Replace(ivorn)

	var b strings.Builder
	for _, r := range ivorn {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "voevent"
	}
	return b.String()
}
