// Package storage provides an abstraction layer for object storage services.
//
// It wraps the MinIO Go client behind a small interface. The sync engine uses it
// to fetch mapping rules and customer alias tables, and to archive run reports.
// Both AWS S3 and self-hosted MinIO instances are supported.
//
// # Client Interface
//
// The Client interface abstracts the underlying storage provider, making it easier
// to mock storage interactions for unit testing (as seen in core/storage/mocks).
//
// # Operations
//
//   - BucketExists: Verifies access to the target bucket.
//   - MakeBucket: Creates a new bucket if needed.
//   - PutObject: Uploads content (with size and options).
//   - GetObject: Retrieves content as a stream.
//   - StatObject: Checks that a config object is present.
//   - ListObjects: Lists objects in a bucket (supports prefix/recursive).
//
// ReadObject and PutJSON cover the whole-object reads and JSON uploads the
// engine needs.
//
// # Usage
//
//	client, err := storage.NewClient(config)
//	data, err := storage.ReadObject(ctx, client, "delta-sync", "config/mapping.yaml")
package storage
