// Package config provides configuration management for the delta sync service.
//
// It utilizes Viper for loading configuration from environment variables and
// an optional .env file. Defaults live next to each field as `default` struct tags.
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Server: HTTP server settings (port, API key)
//   - Database: connection details for the source, staging and snapshot tables
//   - Storage: S3/MinIO credentials and the bucket holding config objects and run reports
//   - Log: Logging level and format
//   - Sync: batch sizes, retry ceiling, source table layout and external API budget
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Sync.MaxBatchSize)
package config
