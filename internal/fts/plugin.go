// Package fts adds PostgreSQL full-text search to the planner: a matches filter on
// tsvector fields, a rank field per tsvector field, and rank order values. The three
// meet in a per-scope rank cache: the filter records what it matched, the field and
// the order values read it back.
package fts

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/catalog"
	"github.com/lychee-technology/fulltext/internal/inflect"
	"github.com/lychee-technology/fulltext/internal/planner"
	"github.com/lychee-technology/fulltext/internal/rankcache"
	"github.com/lychee-technology/fulltext/internal/tsquery"
)

// RankType is the PostgreSQL type of rank fields.
const RankType = "float4"

const arenaKey = "fts.rankcache"

// Options configures the plugin.
type Options struct {
	// TextSearchConfig is the regconfig handed to to_tsquery. Defaults to "simple".
	TextSearchConfig string
	DuplicatePolicy  fulltext.DuplicatePolicy
	Sanitizer        *tsquery.Sanitizer
	Metrics          *Metrics
}

// Plugin is the installed full-text extension.
type Plugin struct {
	config    string
	policy    fulltext.DuplicatePolicy
	sanitizer *tsquery.Sanitizer
	metrics   *Metrics
}

// Register installs the matches operator, rank fields and rank order values on reg.
// It fails when reg cannot take filter operators or the database has no tsvector type.
func Register(reg *planner.Registry, cat *catalog.Catalog, opts Options) (*Plugin, error) {
	if !reg.SupportsFilters() {
		return nil, fulltext.NewMissingCollaboratorError(fulltext.ErrCodeMissingCollaborator,
			"the matches operator requires a registry with filter support")
	}
	if cat == nil || cat.TextSearchUnavailable {
		return nil, fulltext.NewMissingCollaboratorError(fulltext.ErrCodeMissingTSVectorType,
			"unable to find the tsvector type through introspection")
	}

	p := &Plugin{
		config:    opts.TextSearchConfig,
		policy:    opts.DuplicatePolicy,
		sanitizer: opts.Sanitizer,
		metrics:   opts.Metrics,
	}
	if p.config == "" {
		p.config = "simple"
	}
	if p.policy == "" {
		p.policy = fulltext.DuplicateLastWriteWins
	}

	if err := reg.RegisterOperator(planner.Operator{
		Name:  fulltext.OpMatches,
		Types: []string{catalog.TypeTSVector},
		Build: p.matches,
	}); err != nil {
		return nil, err
	}
	reg.RegisterFields(p.rankFields)
	reg.RegisterOrders(p.rankOrders)
	reg.OnScopeFinished(func(s *planner.Scope) {
		p.arena(s.Session()).Release(s.ID())
	})

	zap.S().Infow("full text search registered",
		"textSearchConfig", p.config,
		"duplicatePolicy", p.policy,
		"searchableTables", countSearchable(cat),
	)
	return p, nil
}

func (p *Plugin) arena(sess *planner.Session) *rankcache.Arena {
	return sess.Value(arenaKey, func() any { return rankcache.New(p.policy) }).(*rankcache.Arena)
}

func (p *Plugin) tsquery(arg string) string {
	return fmt.Sprintf("to_tsquery(%s::regconfig, %s)", pq.QuoteLiteral(p.config), arg)
}

// matches builds "<source> @@ to_tsquery(...)" and records the binding in the nearest
// scope. Search text that reduces to nothing matches no rows.
func (p *Plugin) matches(ctx *planner.FilterContext) (string, error) {
	query, err := p.sanitizer.SanitizeValue(ctx.Value)
	if err != nil {
		return "", fulltext.NewInvalidOperandError(ctx.Field.Name, ctx.Operator, ctx.Value).WithCause(err)
	}
	p.metrics.binding()

	if query.IsEmpty() {
		p.metrics.emptyQuery()
		zap.S().Debugw("search text has no terms; filter matches nothing", "field", ctx.Field.Name, "table", ctx.Table.Name)
		return "FALSE", nil
	}

	arg := ctx.Placeholder(query.String())
	predicate := fmt.Sprintf("%s @@ %s", ctx.Source, p.tsquery(arg))

	scope, ok := planner.ResolveScope(ctx.Node)
	if !ok {
		p.metrics.unresolvedScope()
		zap.S().Warnw("matches filter outside any query scope; rank and rank ordering unavailable",
			"field", ctx.Field.Name,
			"table", ctx.Table.Name,
			"error", fulltext.NewUnresolvedScopeError(ctx.Field.Name),
		)
		return predicate, nil
	}

	if err := p.arena(scope.Session()).Record(scope.ID(), ctx.Field.Name, rankcache.Binding{
		Source: ctx.Source,
		Query:  query,
		Arg:    arg,
	}); err != nil {
		return "", err
	}
	return predicate, nil
}

// rank renders the relevance expression of entry.
func (p *Plugin) rank(entry rankcache.Entry) string {
	terms := make([]string, len(entry.Bindings))
	for i, b := range entry.Bindings {
		terms[i] = fmt.Sprintf("ts_rank(%s, %s)", b.Source, p.tsquery(b.Arg))
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return "GREATEST(" + strings.Join(terms, ", ") + ")"
}

func (p *Plugin) lookup(node planner.Node, field string) (rankcache.Entry, bool) {
	scope, ok := planner.ResolveScope(node)
	if !ok {
		return rankcache.Entry{}, false
	}
	return p.arena(scope.Session()).Lookup(scope.ID(), field)
}

// rankFields exposes "<field>Rank" for every search-vector field of t. The field is
// NULL unless the same scope filtered that field with matches.
func (p *Plugin) rankFields(t *catalog.Table) []planner.DerivedField {
	attrs := t.SearchVectorAttributes()
	fields := make([]planner.DerivedField, 0, len(attrs))
	for _, attr := range attrs {
		field := attr.Name
		fields = append(fields, planner.DerivedField{
			Name: inflect.RankField(field),
			Type: RankType,
			Resolve: func(ctx *planner.FieldContext) (string, error) {
				entry, ok := p.lookup(ctx.Node, field)
				p.metrics.lookup(consumerField, ok)
				if !ok {
					return "NULL::" + RankType, nil
				}
				return p.rank(entry), nil
			},
		})
	}
	return fields
}

// rankOrders exposes "<FIELD>_RANK_ASC" and "<FIELD>_RANK_DESC". Without a matches
// filter on the field in the same scope they add no ordering.
func (p *Plugin) rankOrders(t *catalog.Table) []planner.OrderOption {
	var options []planner.OrderOption
	for _, attr := range t.SearchVectorAttributes() {
		field := attr.Name
		for _, dir := range []fulltext.SortDirection{fulltext.SortAsc, fulltext.SortDesc} {
			dir := dir
			name := inflect.RankOrder(field, dir == fulltext.SortAsc)
			options = append(options, planner.OrderOption{
				Name: name,
				Apply: func(ctx *planner.OrderContext) error {
					scope, ok := planner.ResolveScope(ctx.Node)
					if !ok {
						p.metrics.lookup(consumerOrder, false)
						return nil
					}
					entry, ok := p.arena(scope.Session()).Lookup(scope.ID(), field)
					p.metrics.lookup(consumerOrder, ok)
					if !ok {
						zap.S().Debugw("rank order without matches filter has no effect", "order", name, "table", t.Name)
						return nil
					}
					scope.OrderBy(p.rank(entry), dir)
					return nil
				},
			})
		}
	}
	return options
}

func countSearchable(cat *catalog.Catalog) int {
	n := 0
	for _, t := range cat.Tables {
		if len(t.SearchVectorAttributes()) > 0 {
			n++
		}
	}
	return n
}
