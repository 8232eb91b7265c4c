package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/export"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/rs/zerolog/log"
)

// ExportArchiver uploads a full CSV export of the metrics cache after each pass.
type ExportArchiver struct {
	store   repository.MetricsStore
	objects ObjectStorage
	prefix  string
}

func NewExportArchiver(store repository.MetricsStore, objects ObjectStorage, prefix string) *ExportArchiver {
	return &ExportArchiver{store: store, objects: objects, prefix: prefix}
}

func (a *ExportArchiver) Name() string { return "export_archive" }

// AfterPass writes <prefix>/<yyyy>/<mm>/<dd>/<run id>.csv.
func (a *ExportArchiver) AfterPass(ctx context.Context, summary domain.PassSummary) error {
	rows, err := a.store.QueryAll(ctx, domain.FilterSpec{}.Normalize())
	if err != nil {
		return fmt.Errorf("read metrics for archive: %w", err)
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, rows); err != nil {
		return err
	}

	key := ObjectKey(a.prefix, summary)
	if err := a.objects.UploadObject(ctx, key, buf.Bytes(), "text/csv"); err != nil {
		return err
	}

	log.Info().Str("key", key).Int("rows", len(rows)).Str("run_id", summary.RunID.String()).Msg("archived replenishment export")
	return nil
}

// ObjectKey is the archive object name for a pass.
func ObjectKey(prefix string, summary domain.PassSummary) string {
	return path.Join(prefix, summary.StartedAt.UTC().Format("2006/01/02"), summary.RunID.String()+".csv")
}
