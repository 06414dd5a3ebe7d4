package importing

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
)

// DefinitionCatalog lists the import definitions offered for one import mode
// and tracks which one is selected.
type DefinitionCatalog struct {
	clients *ClientAccessor

	mu        sync.RWMutex
	mode      domain.ImportMode
	available []domain.ImportDefinition
	selected  *domain.ImportDefinition

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDefinitionCatalog creates an empty catalog.
func NewDefinitionCatalog(clients *ClientAccessor, logger *logger.Logger, tracer trace.Tracer) *DefinitionCatalog {
	return &DefinitionCatalog{
		clients: clients,
		logger:  logger.With("component", "definition_catalog"),
		tracer:  tracer,
	}
}

// Load replaces the catalog with the non-custom definitions for mode and
// selects the one that takes its validity from the job, or the first one. On
// any failure the catalog is left empty.
func (c *DefinitionCatalog) Load(ctx context.Context, mode domain.ImportMode) error {
	logger := c.logger.With("operation", "load_definitions", "mode", mode)
	ctx, span := c.tracer.Start(ctx, "definition_catalog.importing.load",
		trace.WithAttributes(attribute.String("mode", string(mode))),
	)
	defer span.End()

	defs, err := c.fetch(ctx, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load import definitions")
		logger.Error(ctx, "failed to load import definitions", "error", err)

		c.mu.Lock()
		c.mode, c.available, c.selected = mode, nil, nil
		c.mu.Unlock()
		return err
	}

	idx := slices.IndexFunc(defs, func(d domain.ImportDefinition) bool {
		return d.ValidTimeFrom == domain.ValidTimeJobProvided
	})
	if idx < 0 {
		idx = 0
	}
	selected := defs[idx]

	c.mu.Lock()
	c.mode, c.available, c.selected = mode, defs, &selected
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("definition_count", len(defs)))
	span.SetStatus(codes.Ok, "import definitions loaded")
	logger.Debug(ctx, "import definitions loaded", "count", len(defs), "selected", selected.Slug)
	return nil
}

func (c *DefinitionCatalog) fetch(ctx context.Context, mode domain.ImportMode) ([]domain.ImportDefinition, error) {
	client, err := c.clients.Client(ctx)
	if err != nil {
		return nil, err
	}

	defs, err := client.ListDefinitions(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to list import definitions (mode: %s): %w", mode, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w for mode %s", domain.ErrDefinitionNotFound, mode)
	}
	return defs, nil
}

// Available returns the loaded definitions.
func (c *DefinitionCatalog) Available() []domain.ImportDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.available)
}

// Selected returns the selected definition, or nil.
func (c *DefinitionCatalog) Selected() *domain.ImportDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.selected == nil {
		return nil
	}
	d := *c.selected
	return &d
}

// Select picks the loaded definition with the given slug. It returns
// ErrDefinitionNotFound when no loaded definition has that slug.
func (c *DefinitionCatalog) Select(slug string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := slices.IndexFunc(c.available, func(d domain.ImportDefinition) bool { return d.Slug == slug })
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, slug)
	}
	d := c.available[idx]
	c.selected = &d
	return nil
}
