package canonical

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"delta-sync/feature/deltasync/models"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Customer is one canonical identity and the raw names that resolve to it.
type Customer struct {
	CanonicalName string                `yaml:"canonical_name" validate:"required"`
	Aliases       []string              `yaml:"aliases"`
	Status        models.ApprovalStatus `yaml:"status" validate:"omitempty,oneof=APPROVED REVIEW"`
}

// Resolution is the outcome of resolving a raw name. It is never an error:
// a name without a match comes back unchanged with status REVIEW.
type Resolution struct {
	Name    string
	Status  models.ApprovalStatus
	Matched bool
}

// NeedsReview reports whether the name requires human follow-up.
func (r Resolution) NeedsReview() bool {
	return r.Status == models.Review
}

// Normalize lower-cases and collapses whitespace.
func Normalize(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// Resolver maps raw customer names to canonical customers. It is read-only
// after construction and safe for concurrent use.
type Resolver struct {
	aliases map[string]Customer
}

// NewResolver indexes customers by normalized alias. The canonical name is an
// implicit alias. An alias claimed by two different customers is an error.
func NewResolver(customers []Customer) (*Resolver, error) {
	r := &Resolver{aliases: make(map[string]Customer)}
	for _, c := range customers {
		if c.Status == "" {
			c.Status = models.Approved
		}
		names := append([]string{c.CanonicalName}, c.Aliases...)
		for _, name := range names {
			key := Normalize(name)
			if key == "" {
				continue
			}
			if prev, ok := r.aliases[key]; ok && prev.CanonicalName != c.CanonicalName {
				return nil, fmt.Errorf("alias %q maps to both %q and %q", name, prev.CanonicalName, c.CanonicalName)
			}
			r.aliases[key] = c
		}
	}
	return r, nil
}

// Resolve returns the canonical name for raw.
func (r *Resolver) Resolve(raw string) Resolution {
	c, ok := r.aliases[Normalize(raw)]
	if !ok {
		return Resolution{Name: raw, Status: models.Review}
	}
	return Resolution{Name: c.CanonicalName, Status: c.Status, Matched: true}
}

// Same reports whether two raw names resolve to the same customer.
func (r *Resolver) Same(a, b string) bool {
	return Normalize(r.Resolve(a).Name) == Normalize(r.Resolve(b).Name)
}

// Len returns the number of indexed aliases.
func (r *Resolver) Len() int {
	return len(r.aliases)
}

type customerFile struct {
	Customers []Customer `yaml:"customers" validate:"dive"`
}

// ParseCustomers decodes and validates an alias table.
func ParseCustomers(data []byte) ([]Customer, error) {
	var file customerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse customers: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid customers: %w", err)
	}
	return file.Customers, nil
}

// ObjectGetter returns the bytes of a named config object.
type ObjectGetter interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// Load reads the alias table named name and builds a resolver. An empty name
// yields a resolver without aliases, so every name needs review.
func Load(ctx context.Context, objects ObjectGetter, name string) (*Resolver, error) {
	if name == "" {
		return NewResolver(nil)
	}
	data, err := objects.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load customers: %w", err)
	}
	customers, err := ParseCustomers(data)
	if err != nil {
		return nil, err
	}
	return NewResolver(customers)
}

// ReviewNames returns the distinct raw names that need review, sorted.
func ReviewNames(resolutions []Resolution) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, res := range resolutions {
		if !res.NeedsReview() {
			continue
		}
		if _, ok := seen[res.Name]; ok {
			continue
		}
		seen[res.Name] = struct{}{}
		names = append(names, res.Name)
	}
	slices.Sort(names)
	return names
}
