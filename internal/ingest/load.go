package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/andresuchdata/replenish/internal/storage"
	"github.com/rs/zerolog/log"
)

// LoadStats counts rows written by a load.
type LoadStats struct {
	Snapshots  int `json:"snapshots"`
	OrderLines int `json:"order_lines"`
}

var feedExtensions = []string{".csv", ".xlsx"}

type opener func() (io.ReadCloser, error)

// LoadFiles parses local CSV or XLSX exports and writes them through repo. Empty
// paths are skipped.
func LoadFiles(ctx context.Context, repo repository.IngestRepository, snapshotsPath, ordersPath string) (LoadStats, error) {
	open := func(p string) opener {
		return func() (io.ReadCloser, error) { return os.Open(p) }
	}
	return load(ctx, repo, snapshotsPath, open(snapshotsPath), ordersPath, open(ordersPath))
}

// LoadObjects is LoadFiles over object storage. A reference ending in "/" picks the
// newest export under that prefix.
func LoadObjects(ctx context.Context, repo repository.IngestRepository, objects storage.ObjectStorage, snapshotsRef, ordersRef string) (LoadStats, error) {
	resolve := func(ref string) (string, opener, error) {
		if ref == "" {
			return "", nil, nil
		}
		key, err := storage.ResolveObjectKey(ctx, objects, ref, feedExtensions...)
		if err != nil {
			return "", nil, err
		}
		return key, func() (io.ReadCloser, error) { return objects.GetObject(ctx, key) }, nil
	}

	snapshotsKey, openSnapshots, err := resolve(snapshotsRef)
	if err != nil {
		return LoadStats{}, err
	}
	ordersKey, openOrders, err := resolve(ordersRef)
	if err != nil {
		return LoadStats{}, err
	}
	return load(ctx, repo, snapshotsKey, openSnapshots, ordersKey, openOrders)
}

func load(ctx context.Context, repo repository.IngestRepository, snapshotsName string, openSnapshots opener, ordersName string, openOrders opener) (LoadStats, error) {
	var stats LoadStats

	if snapshotsName != "" {
		var snaps []domain.StockSnapshot
		err := readFeed(snapshotsName, openSnapshots, func(r io.Reader) (err error) {
			snaps, err = ReadSnapshots(r)
			return err
		})
		if err != nil {
			return stats, err
		}
		if stats.Snapshots, err = repo.InsertSnapshots(ctx, snaps); err != nil {
			return stats, fmt.Errorf("insert snapshots: %w", err)
		}
		log.Info().Str("file", snapshotsName).Int("rows", stats.Snapshots).Msg("stock snapshots loaded")
	}

	if ordersName != "" {
		var lines []domain.OrderLine
		err := readFeed(ordersName, openOrders, func(r io.Reader) (err error) {
			lines, err = ReadOrderLines(r)
			return err
		})
		if err != nil {
			return stats, err
		}
		if stats.OrderLines, err = repo.InsertOrderLines(ctx, lines); err != nil {
			return stats, fmt.Errorf("insert order lines: %w", err)
		}
		log.Info().Str("file", ordersName).Int("rows", stats.OrderLines).Msg("order lines loaded")
	}

	return stats, nil
}

func readFeed(name string, open opener, parse func(io.Reader) error) error {
	rc, err := open()
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if strings.EqualFold(path.Ext(name), ".xlsx") {
		if r, err = sheetToCSV(rc); err != nil {
			return fmt.Errorf("convert %s: %w", name, err)
		}
	}
	if err := parse(r); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
