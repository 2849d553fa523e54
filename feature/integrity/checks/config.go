package checks

import (
	"context"

	"delta-sync/core/storage"

	"github.com/minio/minio-go/v7"
)

// CheckConfigObjects returns the config objects missing from the bucket.
// Empty names are skipped.
func CheckConfigObjects(ctx context.Context, client storage.Client, bucket string, names []string) ([]string, error) {
	if err := requireBucket(ctx, client, bucket); err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := client.StatObject(ctx, bucket, name, minio.StatObjectOptions{}); err != nil {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
