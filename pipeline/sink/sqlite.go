package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

const sqliteTable = "products_optimized"

var sqliteColumns = []struct {
	name string
	typ  string
}{
	{"run_id", "TEXT"},
	{"external_id", "TEXT"},
	{"source", "TEXT"},
	{"title_raw", "TEXT"},
	{"title_ar", "TEXT"},
	{"description_ar", "TEXT"},
	{"seo_tags_ar", "TEXT"},
	{"category", "TEXT"},
	{"brand", "TEXT"},
	{"images", "TEXT"},
	{"rating", "REAL"},
	{"orders", "REAL"},
	{"supplier_price", "REAL"},
	{"supplier_shipping", "REAL"},
	{"final_price", "REAL"},
	{"record", "TEXT"},
	{"created_at", "TEXT"},
}

// SQLiteSink rebuilds the products_optimized table on every run.
type SQLiteSink struct {
	Path string
}

func NewSQLiteSink(path string) *SQLiteSink {
	return &SQLiteSink{Path: path}
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Write(ctx context.Context, run catalog.Run, products []catalog.Product) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.Path, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	defs := make([]string, 0, len(sqliteColumns))
	names := make([]string, 0, len(sqliteColumns))
	for _, c := range sqliteColumns {
		defs = append(defs, fmt.Sprintf("%q %s", c.name, c.typ))
		names = append(names, fmt.Sprintf("%q", c.name))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, sqliteTable)); err != nil {
		return fmt.Errorf("dropping table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %q (%s)`, sqliteTable, strings.Join(defs, ","))); err != nil {
		return fmt.Errorf("creating table: %w", err)
	}

	ph := strings.TrimRight(strings.Repeat("?,", len(sqliteColumns)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`, sqliteTable, strings.Join(names, ","), ph))
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	createdAt := run.StartedAt.Format(time.RFC3339)
	for _, p := range products {
		args, err := sqliteRow(run.ID, createdAt, p)
		if err != nil {
			return fmt.Errorf("encoding product %s: %w", p.Label(), err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting product %s: %w", p.Label(), err)
		}
	}

	for _, idx := range []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_external_id ON %[1]s(external_id)`, sqliteTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_category ON %[1]s(category)`, sqliteTable),
	} {
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSink) Close() error { return nil }

func sqliteRow(runID, createdAt string, p catalog.Product) ([]any, error) {
	tags, err := json.Marshal(nonNil(p.SEOTagsAR))
	if err != nil {
		return nil, err
	}
	images, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return nil, err
	}
	record, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var finalPrice any
	if p.FinalPrice != nil {
		finalPrice = *p.FinalPrice
	}
	return []any{
		runID, p.ExternalID, p.Source, p.Title, p.TitleAR, p.DescriptionAR, string(tags),
		p.Category, p.Brand, string(images), p.Rating, p.Orders, p.SupplierPrice,
		p.SupplierShipping, finalPrice, string(record), createdAt,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
