package checks

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"delta-sync/core/database"
	"delta-sync/feature/deltasync/models"

	"gorm.io/gorm"
)

// TableReport is the result for one table.
type TableReport struct {
	Exists         bool     `json:"exists"`
	MissingColumns []string `json:"missing_columns"`
	Status         string   `json:"status"` // "ok", "error"
}

// SchemaReport strictly types the result of a schema check.
type SchemaReport struct {
	Matched bool                   `json:"matched"`
	Tables  map[string]TableReport `json:"tables"`
	Errors  []string               `json:"errors"`
}

// stagingModels are the tables the engine owns.
var stagingModels = []any{models.Snapshot{}, models.Batch{}, models.StagingRecord{}}

// CheckStagingSchema verifies the snapshot and staging tables using the GORM
// models as the source of truth.
func CheckStagingSchema(db *gorm.DB) (*SchemaReport, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	report := &SchemaReport{Matched: true, Tables: make(map[string]TableReport)}
	for _, model := range stagingModels {
		tableName, columns, err := modelColumns(model)
		if err != nil {
			return nil, err
		}
		checkTable(db, report, tableName, columns)
	}
	return report, nil
}

// CheckSource verifies that the source table exposes every required column.
func CheckSource(db *gorm.DB, table string, required []string) (*SchemaReport, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	report := &SchemaReport{Matched: true, Tables: make(map[string]TableReport)}
	checkTable(db, report, table, dedupe(required))
	return report, nil
}

func checkTable(db *gorm.DB, report *SchemaReport, table string, columns []string) {
	tbl := TableReport{MissingColumns: []string{}, Status: "ok"}

	if !db.Migrator().HasTable(table) {
		tbl.Status = "error"
		tbl.MissingColumns = columns
		report.Tables[table] = tbl
		report.Matched = false
		return
	}
	tbl.Exists = true

	missing, err := database.MissingColumns(db, table, columns)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("Failed to inspect table %s: %v", table, err))
		report.Matched = false
		tbl.Status = "error"
		report.Tables[table] = tbl
		return
	}
	if len(missing) > 0 {
		tbl.MissingColumns = missing
		tbl.Status = "error"
		report.Matched = false
	}
	report.Tables[table] = tbl
}

// modelColumns returns the table name and gorm columns of model.
func modelColumns(model any) (string, []string, error) {
	val := reflect.TypeOf(model)
	tabler, ok := reflect.New(val).Interface().(interface{ TableName() string })
	if !ok {
		return "", nil, fmt.Errorf("model %s does not implement TableName", val.Name())
	}

	var columns []string
	for i := 0; i < val.NumField(); i++ {
		if col := parseGormColumn(val.Field(i).Tag.Get("gorm")); col != "" {
			columns = append(columns, col)
		}
	}
	return tabler.TableName(), columns, nil
}

func parseGormColumn(tag string) string {
	for _, p := range strings.Split(tag, ";") {
		if strings.HasPrefix(p, "column:") {
			return strings.TrimPrefix(p, "column:")
		}
	}
	return ""
}

func dedupe(names []string) []string {
	var out []string
	for _, n := range names {
		if n != "" && !slices.ContainsFunc(out, func(o string) bool { return strings.EqualFold(o, n) }) {
			out = append(out, n)
		}
	}
	return out
}
