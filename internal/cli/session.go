package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dosestore/internal/config"
	"github.com/roach88/dosestore/internal/dosestore"
)

// uploadPoll is how often a session checks whether an upload finished.
const uploadPoll = 100 * time.Millisecond

// session is a running dose store opened for one command.
type session struct {
	ds        *dosestore.DoseStore
	cancel    context.CancelFunc
	logger    *slog.Logger
	uploads   bool
	uploadTTL time.Duration
}

// newLogger returns a text logger on w. Only warnings are shown unless
// verbose is set.
func newLogger(verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openSession builds a dose store from the config file and flags, starts
// it, and waits for it to become ready.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())

	var (
		storeOpts []dosestore.Option
		file      *config.File
	)
	if opts.Config != "" {
		var err error
		if file, err = config.Load(opts.Config); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		if storeOpts, err = file.Options(logger); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid config", err)
		}
	}

	// A later opener replaces the config file's.
	db := opts.Database
	if db == "" && file == nil {
		db = os.Getenv(config.EnvDatabase)
	}
	switch {
	case db != "":
		storeOpts = append(storeOpts, dosestore.WithOpener(dosestore.SQLiteOpener(db)))
	case file == nil:
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("no database: pass --db, --config or set %s", config.EnvDatabase))
	}
	storeOpts = append(storeOpts, dosestore.WithLogger(logger))

	ds := dosestore.New(storeOpts...)
	runCtx, cancel := context.WithCancel(ctx)
	go ds.Run(runCtx)

	s := &session{ds: ds, cancel: cancel, logger: logger}
	if file != nil && file.Upload != nil {
		s.uploads = true
		s.uploadTTL = 30 * time.Second
		if file.Upload.Timeout != "" {
			if d, err := time.ParseDuration(file.Upload.Timeout); err == nil {
				s.uploadTTL = d
			}
		}
	}

	// Queued behind initialization; fails with its error.
	if _, err := ds.AreReservoirValuesValid(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close stops the store and releases the database.
func (s *session) Close() {
	if err := s.ds.Close(); err != nil {
		s.logger.Error("closing dose store", "error", err)
	}
	s.cancel()
}

// waitUpload blocks until an upload requested by the last command has been
// answered, so the process does not exit with the request in flight.
func (s *session) waitUpload(ctx context.Context) error {
	if !s.uploads {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.uploadTTL+time.Second)
	defer cancel()

	ticker := time.NewTicker(uploadPoll)
	defer ticker.Stop()
	for {
		pending, err := s.ds.UploadPending(ctx)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for upload: %w", ctx.Err())
		}
	}
}

// parseTime parses a time flag relative to now. It accepts "now",
// a signed Go duration ("-90m", "+2h") or an RFC 3339 timestamp. An empty
// value yields def.
func parseTime(value string, now time.Time, def time.Time) (time.Time, error) {
	switch {
	case value == "":
		return def, nil
	case value == "now":
		return now, nil
	case strings.HasPrefix(value, "-") || strings.HasPrefix(value, "+"):
		d, err := time.ParseDuration(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative time %q: %w", value, err)
		}
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want now, a signed duration or RFC 3339", value)
	}
	return t, nil
}

// timeRange parses a pair of time flags.
func timeRange(start, end string, now, defStart, defEnd time.Time) (time.Time, time.Time, error) {
	s, err := parseTime(start, now, defStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := parseTime(end, now, defEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !e.IsZero() && e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", e.Format(time.RFC3339), s.Format(time.RFC3339))
	}
	return s, e, nil
}
