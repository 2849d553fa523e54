package deltasync

import (
	"time"

	"delta-sync/core/retry"
	"delta-sync/feature/deltasync/client"
)

// Config holds the sync engine settings loaded from the environment (SYNC_*).
type Config struct {
	// MaxBatchSize caps the rows staged in one batch.
	MaxBatchSize int `mapstructure:"max_batch_size" default:"50" validate:"min=1"`
	// RetryCeiling is the retry count at which a key stops being staged.
	RetryCeiling int `mapstructure:"retry_ceiling" default:"3" validate:"min=0"`
	// Workers bounds how many customers are processed concurrently.
	Workers int `mapstructure:"workers" default:"4" validate:"min=1,max=64"`
	// RunDeadlineSeconds bounds a whole run; remaining batches stay PENDING.
	RunDeadlineSeconds int `mapstructure:"run_deadline_seconds" default:"1800" validate:"min=0"`
	// ConfigSource is where mapping and customer files are read from (file, storage).
	ConfigSource string `mapstructure:"config_source" default:"file" validate:"oneof=file storage"`
	// ConfigDir is the base directory when ConfigSource is file.
	ConfigDir string `mapstructure:"config_dir" default:"config"`
	// MappingFile names the field mapping rule file.
	MappingFile string `mapstructure:"mapping_file" default:"mapping.yaml" validate:"required"`
	// CustomersFile names the canonical customer alias file. Empty disables aliasing.
	CustomersFile string `mapstructure:"customers_file" default:"customers.yaml"`
	// ReportPrefix is the object prefix run reports are archived under.
	ReportPrefix string `mapstructure:"report_prefix" default:"reports"`
	// ArchiveReports writes every run summary to object storage.
	ArchiveReports bool `mapstructure:"archive_reports" default:"false"`

	Source SourceConfig `mapstructure:"source"`
	API    APIConfig    `mapstructure:"api"`
}

// SourceConfig describes the system-of-record table.
type SourceConfig struct {
	Table          string `mapstructure:"table" default:"purchase_orders" validate:"required"`
	KeyColumn      string `mapstructure:"key_column" default:"natural_key" validate:"required"`
	CustomerColumn string `mapstructure:"customer_column" default:"customer" validate:"required"`
	// Fields are the business columns read and fingerprinted. Empty reads every column.
	Fields []string `mapstructure:"fields" default:""`
	// ExcludedFields are read but left out of the fingerprint.
	ExcludedFields   []string `mapstructure:"excluded_fields" default:""`
	NumericPrecision int      `mapstructure:"numeric_precision" default:"4" validate:"min=0,max=18"`
}

// APIConfig holds the external API connection and its budget.
type APIConfig struct {
	Endpoint  string `mapstructure:"endpoint" default:"https://api.monday.com/v2"`
	Token     string `mapstructure:"token" default:""`
	Version   string `mapstructure:"version" default:"2024-10"`
	BoardID   string `mapstructure:"board_id" default:""`
	GroupID   string `mapstructure:"group_id" default:""`
	NameField string `mapstructure:"name_field" default:"name"`

	RecordsPerCall      int `mapstructure:"records_per_call" default:"10" validate:"min=1"`
	MaxComplexity       int `mapstructure:"max_complexity" default:"0"`
	ComplexityPerRecord int `mapstructure:"complexity_per_record" default:"0"`
	RequestsPerMinute   int `mapstructure:"requests_per_minute" default:"60" validate:"min=0"`

	MaxAttempts       int `mapstructure:"max_attempts" default:"3" validate:"min=1"`
	BaseBackoffMs     int `mapstructure:"base_backoff_ms" default:"500"`
	MaxBackoffSeconds int `mapstructure:"max_backoff_seconds" default:"30"`
	TimeoutSeconds    int `mapstructure:"timeout_seconds" default:"30" validate:"min=1"`
}

// Budget returns the call budget.
func (c APIConfig) Budget() client.Budget {
	return client.Budget{
		RecordsPerCall:      c.RecordsPerCall,
		MaxComplexity:       c.MaxComplexity,
		ComplexityPerRecord: c.ComplexityPerRecord,
		RequestsPerMinute:   c.RequestsPerMinute,
		CallTimeout:         time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

// Policy returns the retry policy for API calls.
func (c APIConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		Backoff: retry.Exponential(
			time.Duration(c.BaseBackoffMs)*time.Millisecond,
			time.Duration(c.MaxBackoffSeconds)*time.Second,
			2,
		),
		Retryable: client.IsTransient,
	}
}

// Monday returns the transport settings.
func (c APIConfig) Monday() client.MondayConfig {
	return client.MondayConfig{
		Endpoint:  c.Endpoint,
		Token:     c.Token,
		Version:   c.Version,
		BoardID:   c.BoardID,
		GroupID:   c.GroupID,
		NameField: c.NameField,
		Timeout:   time.Duration(c.TimeoutSeconds) * time.Second,
	}
}
