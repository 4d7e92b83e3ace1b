package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
)

// FilesystemSink writes reports under {base}/{owner}/{name}/: a rolling
// latest.md plus one dated file per report, named by the window end in UTC.
type FilesystemSink struct {
	base   string
	logger *slog.Logger
}

func NewFilesystemSink(base string, logger *slog.Logger) (*FilesystemSink, error) {
	if base == "" {
		return nil, gerrors.ConfigRequired("REPORT_SINK_PATH")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, gerrors.StorageError("create report sink base directory", err)
	}
	return &FilesystemSink{
		base:   base,
		logger: logger.With(logfields.Component("sink")),
	}, nil
}

func (s *FilesystemSink) Write(ctx context.Context, markdown string, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(s.base, meta.Owner, meta.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return gerrors.StorageError("create report directory", err)
	}

	dated := fmt.Sprintf("%s-%s.md", meta.WindowEnd.UTC().Format(time.DateOnly), meta.ReportID)
	if err := os.WriteFile(filepath.Join(dir, dated), []byte(markdown), 0o644); err != nil {
		return gerrors.StorageError("write dated report file", err)
	}

	// latest.md is replaced atomically so a concurrent reader never sees a
	// half-written document.
	tmp := filepath.Join(dir, ".latest.md.tmp")
	if err := os.WriteFile(tmp, []byte(markdown), 0o644); err != nil {
		return gerrors.StorageError("write latest report file", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "latest.md")); err != nil {
		return gerrors.StorageError("replace latest report file", err)
	}

	s.logger.Debug("report written",
		logfields.Owner(meta.Owner),
		logfields.Name(meta.Name),
		logfields.ReportID(meta.ReportID))
	return nil
}
