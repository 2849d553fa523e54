// Package integrity provides preflight checks for the sync engine.
//
// It validates the infrastructure a run depends on before any row is staged.
//
// # Checks Provided
//
//   - Structure: Checks that the report folder exists in the bucket when run reports are archived.
//   - Config: Verifies the mapping and customer files exist in the bucket when config_source is storage.
//   - Source: Validates that the source table has the key, customer, business and mapped columns.
//   - Schema: Validates that the snapshot and staging tables match the engine's models.
//
// # HTTP Endpoints
//
//   - GET /integrity : Runs all checks.
//   - GET /integrity/structure : Runs structure check (supports ?fix=true).
//   - GET /integrity/config : Runs config object check.
//   - GET /integrity/source : Runs source table check.
//   - GET /integrity/schema : Runs staging schema check.
package integrity
