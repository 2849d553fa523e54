// Package database handles database connections and schema inspection.
//
// It wraps GORM to configure MySQL (production) or SQLite (local runs and tests)
// connections from the application configuration. The same connection serves three
// roles in a sync run: the read-only source table, the staging tables and the
// snapshot table.
//
// # Schema Inspection
//
// GetTableColumns and MissingColumns let the preflight checks verify that the source
// table carries the natural key, the customer column and every field the mapping rules
// reference before a run starts.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//
//	missing, err := database.MissingColumns(db, "purchase_orders", []string{"po_number"})
package database
