package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/schema"
)

// EntityParser loads the entities of one type. Materialize must run before
// WireRelations: wiring skips the nodes materialize rejected.
type EntityParser struct {
	desc      *schema.EntityDescriptor
	fields    []*FieldResolver
	relations []*RelationResolver
	store     model.Store
	log       *slog.Logger

	failed map[int]bool
}

// NewEntityParser builds the resolvers of d.
func NewEntityParser(d *schema.EntityDescriptor, store model.Store, log *slog.Logger) *EntityParser {
	if log == nil {
		log = slog.Default()
	}

	p := &EntityParser{
		desc:   d,
		store:  store,
		log:    log.With("entity", d.Name),
		failed: make(map[int]bool),
	}
	for _, f := range d.Fields {
		p.fields = append(p.fields, NewFieldResolver(d.Name, f, store))
	}
	for _, r := range d.Relations {
		p.relations = append(p.relations, NewRelationResolver(d.Name, r, store))
	}
	return p
}

// Name returns the entity type name.
func (p *EntityParser) Name() string { return p.desc.Name }

// Materialize upserts one entity per node matched by the entity query, in
// document order. A node whose fields cannot be resolved is counted and
// skipped.
func (p *EntityParser) Materialize(ctx context.Context, doc backend.Node, stats *Stats) error {
	nodes, err := doc.FindAll(p.desc.Query)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", p.desc.Name, err)
	}
	p.failed = make(map[int]bool)

	for i, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Read++

		created, err := p.materializeNode(ctx, node)
		if err != nil {
			if !IsRecoverable(err) {
				return fmt.Errorf("materialize %s node %d: %w", p.desc.Name, i, err)
			}
			p.failed[i] = true
			p.recordFailure(stats, i, PhaseMaterialize, err)
			continue
		}
		if created {
			stats.Loaded++
		}
	}

	p.log.Debug("materialized", "nodes", len(nodes), "failed", len(p.failed))
	return nil
}

func (p *EntityParser) materializeNode(ctx context.Context, node backend.Node) (bool, error) {
	values, err := p.resolveFields(ctx, node)
	if err != nil {
		return false, err
	}
	_, created, err := p.store.FindOrCreate(ctx, p.desc.EntityType, values)
	return created, err
}

// WireRelations attaches every configured relation. For each node the owning
// entities are found by the node's field values, then each relation is
// resolved once and attached to every owner.
func (p *EntityParser) WireRelations(ctx context.Context, doc backend.Node, stats *Stats) error {
	if len(p.relations) == 0 {
		return nil
	}

	nodes, err := doc.FindAll(p.desc.Query)
	if err != nil {
		return fmt.Errorf("wire %s: %w", p.desc.Name, err)
	}

	for i, node := range nodes {
		if p.failed[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.wireNode(ctx, node); err != nil {
			if !IsRecoverable(err) {
				return fmt.Errorf("wire %s node %d: %w", p.desc.Name, i, err)
			}
			p.recordFailure(stats, i, PhaseWire, err)
		}
	}
	return nil
}

func (p *EntityParser) wireNode(ctx context.Context, node backend.Node) error {
	values, err := p.resolveFields(ctx, node)
	if err != nil {
		return err
	}
	owners, err := p.store.Filter(ctx, p.desc.EntityType, values)
	if err != nil {
		return err
	}

	for _, rel := range p.relations {
		related, err := rel.Resolve(ctx, node)
		if err != nil {
			return err
		}
		if related == nil {
			continue
		}

		join, err := rel.ResolveJoin(ctx, node)
		if err != nil {
			return err
		}

		for _, owner := range owners {
			var j *model.Entity
			if join != nil {
				j = model.NewEntity(join.Type)
				j.Values = join.Values.Clone()
			}
			if err := rel.Attach(ctx, owner, related, j); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveFields resolves every field in declaration order and stops at the
// first failure.
func (p *EntityParser) resolveFields(ctx context.Context, node backend.Node) (model.Values, error) {
	values := make(model.Values, len(p.fields))
	for _, f := range p.fields {
		v, err := f.Resolve(ctx, node)
		if err != nil {
			return nil, err
		}
		values[f.Name()] = v
	}
	return values, nil
}

func (p *EntityParser) recordFailure(stats *Stats, node int, phase Phase, err error) {
	stats.fail(p.desc.Name, node, phase, err)

	args := []any{"node_index", node, "phase", phase, "error", err}
	var qe *QueryError
	if errors.As(err, &qe) {
		args = append(args, "field", qe.Field, "query", qe.Query)
	}
	var he *HookError
	if errors.As(err, &he) {
		args = append(args, "field", he.Field, "hook", he.Hook)
	}
	p.log.Warn("node skipped", args...)
}
