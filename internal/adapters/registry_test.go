package adapters

import (
	"context"
	"errors"
	"testing"

	"aggronation/internal/models"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(models.SourceTypeFeed, AdapterFunc(func(context.Context, models.Source) ([]models.CanonicalItem, error) {
		return []models.CanonicalItem{{ExternalID: "1"}}, nil
	}))

	a, err := r.Lookup(models.SourceTypeFeed)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	items, err := a.Fetch(context.Background(), models.Source{})
	if err != nil || len(items) != 1 {
		t.Fatalf("unexpected fetch result %v %v", items, err)
	}

	if _, err := r.Lookup(models.SourceTypeSocial); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	noop := AdapterFunc(func(context.Context, models.Source) ([]models.CanonicalItem, error) { return nil, nil })
	r.Register(models.SourceTypeSocial, noop)
	r.Register(models.SourceTypeChannel, noop)
	r.Register(models.SourceTypeFeed, noop)

	types := r.Types()
	if len(types) != 3 || types[0] != models.SourceTypeChannel || types[2] != models.SourceTypeSocial {
		t.Fatalf("unexpected types %v", types)
	}
}
