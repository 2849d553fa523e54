package cmd

import (
	"context"
	"fmt"

	"delta-sync/feature/integrity"
	"delta-sync/feature/integrity/checks"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fixFlag bool

// integrityCmd represents the integrity command
var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Perform integrity checks on the sync environment",
	Long:  `Checks the report folder, the config objects, the source table columns and the staging schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return cmd.Help()
		}
		return runIntegrityChecks(cmd.Context(), checkAll)
	},
}

type checkSet int

const (
	checkStructure checkSet = 1 << iota
	checkConfig
	checkSource
	checkSchema

	checkAll = checkStructure | checkConfig | checkSource | checkSchema
)

// structureCmd represents the integrity structure command
var structureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Check and fix the report folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntegrityChecks(cmd.Context(), checkStructure)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Check that the mapping and customer objects exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntegrityChecks(cmd.Context(), checkConfig)
	},
}

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Check the source table columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntegrityChecks(cmd.Context(), checkSource)
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Check the snapshot and staging tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntegrityChecks(cmd.Context(), checkSchema)
	},
}

func init() {
	RootCmd.AddCommand(integrityCmd)
	integrityCmd.AddCommand(structureCmd, configCmd, sourceCmd, schemaCmd)

	structureCmd.Flags().BoolVar(&fixFlag, "fix", false, "Fix missing folders")
}

func runIntegrityChecks(ctx context.Context, set checkSet) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	logg := rt.logger
	defer logg.Sync()

	svc := rt.integrityService()
	failed := false

	if set&checkStructure != 0 {
		logg.Info("Checking folder structure...")
		if !structure(ctx, svc, logg, set == checkStructure) {
			failed = true
		}
	}

	if set&checkConfig != 0 {
		logg.Info("Checking config objects...")
		missing, err := svc.CheckConfig(ctx)
		switch {
		case err != nil:
			logg.Error("Config check failed", zap.Error(err))
			failed = true
		case len(missing) > 0:
			logg.Warn("Missing config objects detected", zap.Strings("missing", missing))
			failed = true
		default:
			logg.Info("Config objects are present.")
		}
	}

	if set&checkSource != 0 {
		logg.Info("Checking source table...", zap.String("table", rt.cfg.Sync.Source.Table))
		report, err := svc.CheckSource(ctx)
		if !logSchemaReport(logg, "Source", report, err) {
			failed = true
		}
	}

	if set&checkSchema != 0 {
		logg.Info("Checking staging schema...")
		report, err := svc.CheckSchema()
		if !logSchemaReport(logg, "Staging schema", report, err) {
			failed = true
		}
	}

	if failed {
		return fmt.Errorf("integrity checks found problems")
	}
	return nil
}

func structure(ctx context.Context, svc *integrity.Service, logg *zap.Logger, only bool) bool {
	missing, err := svc.CheckStructure(ctx)
	if err != nil {
		logg.Error("Structure check failed", zap.Error(err))
		return false
	}
	if len(missing) == 0 {
		logg.Info("Structure is intact.")
		return true
	}

	logg.Warn("Missing folders detected", zap.Strings("missing", missing))
	if !only || !fixFlag {
		if only {
			logg.Info("Run with --fix to create missing folders.")
		}
		return false
	}

	logg.Info("Fixing missing folders...")
	if err := svc.FixStructure(ctx, missing); err != nil {
		logg.Error("Failed to fix structure", zap.Error(err))
		return false
	}
	logg.Info("Structure fixed successfully.")
	return true
}

func logSchemaReport(logg *zap.Logger, what string, report *checks.SchemaReport, err error) bool {
	if err != nil {
		logg.Error(what+" check failed", zap.Error(err))
		return false
	}
	if report.Matched {
		logg.Info(what + " matches expected definition.")
		return true
	}

	logg.Warn(what + " mismatches found")
	for table, tbl := range report.Tables {
		if tbl.Status != "ok" {
			logg.Warn("Missing Columns", zap.String("table", table), zap.Bool("exists", tbl.Exists), zap.Strings("columns", tbl.MissingColumns))
		}
	}
	for _, e := range report.Errors {
		logg.Error("Inspection Error", zap.String("error", e))
	}
	return false
}
