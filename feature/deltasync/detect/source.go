package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"delta-sync/core/logger"
	"delta-sync/core/utils"
	"delta-sync/feature/deltasync/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TableSource reads source rows from an externally owned table or view.
// It never writes to the source.
type TableSource struct {
	db             *gorm.DB
	table          string
	keyColumn      string
	customerColumn string
	columns        []string
	logger         *zap.Logger
}

// NewTableSource creates a reader over table. An empty column list reads every column.
func NewTableSource(db *gorm.DB, table, keyColumn, customerColumn string, columns []string, l *zap.Logger) *TableSource {
	return &TableSource{
		db:             db,
		table:          table,
		keyColumn:      keyColumn,
		customerColumn: customerColumn,
		columns:        columns,
		logger:         logger.OrNop(l),
	}
}

// Columns returns the columns the source must provide.
func (s *TableSource) Columns() []string {
	cols := []string{s.keyColumn, s.customerColumn}
	for _, c := range s.columns {
		if !strings.EqualFold(c, s.keyColumn) && !strings.EqualFold(c, s.customerColumn) {
			cols = append(cols, c)
		}
	}
	return cols
}

// Read loads every row of the source table. Rows without a natural key are
// logged and skipped.
func (s *TableSource) Read(ctx context.Context) ([]models.SourceRow, error) {
	q := s.db.WithContext(ctx).Table(s.table)
	if len(s.columns) > 0 {
		q = q.Select(s.Columns())
	}

	dbRows, err := q.Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}
	defer dbRows.Close()

	columns, err := dbRows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var rows []models.SourceRow
	skipped := 0
	for dbRows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := dbRows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := models.SourceRow{Fields: make(map[string]any, len(columns))}
		for i, col := range columns {
			val := normalizeValue(values[i])
			switch {
			case strings.EqualFold(col, s.keyColumn):
				row.NaturalKey = strings.TrimSpace(utils.ToString(val))
			case strings.EqualFold(col, s.customerColumn):
				row.Customer = utils.ToString(val)
			}
			row.Fields[col] = val
		}

		if row.NaturalKey == "" {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", s.table, err)
	}

	if skipped > 0 {
		s.logger.Warn("Skipped source rows without natural key",
			zap.String("table", s.table),
			zap.Int("count", skipped))
	}
	return rows, nil
}

// normalizeValue turns driver byte slices into text and times into UTC.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
