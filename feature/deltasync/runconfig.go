package deltasync

import (
	"context"
	"fmt"
	"time"

	"delta-sync/feature/deltasync/canonical"
	"delta-sync/feature/deltasync/mapping"

	"github.com/go-playground/validator/v10"
)

// ObjectGetter returns the bytes of a named config object.
type ObjectGetter interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// RunConfig is everything one run needs, built once at run start and handed
// to every component. It is never modified afterwards.
type RunConfig struct {
	Settings Config
	Mapper   *mapping.Mapper     `validate:"required"`
	Resolver *canonical.Resolver `validate:"required"`
}

// NewRunConfig validates settings and binds them to the loaded rule set and
// alias table.
func NewRunConfig(settings Config, mapper *mapping.Mapper, resolver *canonical.Resolver) (*RunConfig, error) {
	rc := &RunConfig{Settings: settings, Mapper: mapper, Resolver: resolver}
	if err := validator.New().Struct(rc); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	return rc, nil
}

// LoadRunConfig reads the mapping rules and customer aliases named in settings
// from objects and builds the run config.
func LoadRunConfig(ctx context.Context, settings Config, objects ObjectGetter) (*RunConfig, error) {
	mapper, err := mapping.Load(ctx, objects, settings.MappingFile)
	if err != nil {
		return nil, err
	}
	resolver, err := canonical.Load(ctx, objects, settings.CustomersFile)
	if err != nil {
		return nil, err
	}
	return NewRunConfig(settings, mapper, resolver)
}

// Deadline returns the whole-run deadline; zero means none.
func (rc *RunConfig) Deadline() time.Duration {
	return time.Duration(rc.Settings.RunDeadlineSeconds) * time.Second
}
