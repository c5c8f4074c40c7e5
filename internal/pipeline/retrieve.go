package pipeline

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adviseriq/advisor-cli/internal/cache"
	"github.com/adviseriq/advisor-cli/internal/catalog"
	"github.com/adviseriq/advisor-cli/internal/gateway"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/pkg/kb"
	"github.com/adviseriq/advisor-cli/pkg/telemetry"
)

// Retriever is the retrieval stage: usage trends and knowledge snippets
// fetched concurrently, each behind its own breaker, never aborting the
// run. A dead source contributes an empty, degraded slot instead.
type Retriever struct {
	gw        *gateway.Gateway
	telemetry telemetry.Client
	kb        kb.Client
	catalog   *catalog.Catalog
	trends    *cache.Cache[[]model.UsageRecord]
	opts      Options

	nowFunc func() time.Time
}

// NewRetriever wires the retrieval stage.
func NewRetriever(gw *gateway.Gateway, tc telemetry.Client, kc kb.Client, cat *catalog.Catalog, trends *cache.Cache[[]model.UsageRecord], opts Options) *Retriever {
	return &Retriever{
		gw:        gw,
		telemetry: tc,
		kb:        kc,
		catalog:   cat,
		trends:    trends,
		opts:      opts.withDefaults(),
		nowFunc:   time.Now,
	}
}

// Retrieve builds the evidence bundle for a customer. Both sources are
// queried in parallel; either one failing degrades the bundle rather than
// erroring. Only a caller-cancelled context surfaces as an error.
func (r *Retriever) Retrieve(ctx context.Context, profile *model.CustomerProfile) (model.EvidenceBundle, error) {
	var (
		usage       []model.UsageRecord
		usageDeg    bool
		snippets    []model.KnowledgeSnippet
		snippetsDeg bool
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		u, deg, err := r.loadTrends(gCtx, profile.ID)
		if err != nil {
			return err
		}
		usage, usageDeg = u, deg
		return nil
	})

	g.Go(func() error {
		s, deg, err := gateway.Call(gCtx, r.gw, gateway.SourceKnowledgeBase, []model.KnowledgeSnippet{},
			func(c context.Context) ([]model.KnowledgeSnippet, error) {
				return r.kb.Search(c, r.searchQuery(profile), kb.WithLimit(r.opts.KnowledgeTopK))
			})
		if err != nil {
			return err
		}
		snippets, snippetsDeg = s, deg
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.EvidenceBundle{}, err
	}

	bundle := model.EvidenceBundle{
		CustomerID: profile.ID,
		Usage:      usage,
		Snippets:   snippets,
		Degraded:   usageDeg || snippetsDeg,
		FetchedAt:  r.nowFunc(),
	}
	bundle.Confidence = retrievalConfidence(bundle)
	return bundle, nil
}

// loadTrends serves usage trends from the long-TTL cache, loading through
// the breaker on a miss. A live cache entry answers even when the breaker
// is open.
func (r *Retriever) loadTrends(ctx context.Context, customerID string) ([]model.UsageRecord, bool, error) {
	key := "trends:" + customerID
	if v, ok := r.trends.Peek(key); ok {
		return v, false, nil
	}
	return gateway.Call(ctx, r.gw, gateway.SourceUsageTrends, []model.UsageRecord{},
		func(c context.Context) ([]model.UsageRecord, error) {
			return r.trends.GetOrLoad(c, key, r.opts.TrendsTTL, func(c context.Context) ([]model.UsageRecord, error) {
				return r.telemetry.GetTrends(c, customerID, r.opts.UsageWindowDays)
			})
		})
}

// searchQuery builds the knowledge query from static inputs only, so the
// search can run in parallel with the trends fetch.
func (r *Retriever) searchQuery(profile *model.CustomerProfile) string {
	terms := []string{"feature adoption"}
	if profile.Plan != "" {
		terms = append(terms, profile.Plan+" plan")
	}
	if profile.Industry != "" {
		terms = append(terms, profile.Industry)
	}
	for _, f := range r.catalog.Features {
		if r.catalog.Included(profile.Plan, f.Name) {
			terms = append(terms, f.Name)
		}
	}
	return strings.Join(terms, " ")
}

// retrievalConfidence scores how much the bundle can be trusted: usage
// completeness up to 0.4, average snippet relevance up to 0.4, and an
// intensity-mix bonus up to 0.2 when the usage profile shows a clear
// adopted-versus-ignored split.
func retrievalConfidence(b model.EvidenceBundle) float64 {
	completeness := float64(len(b.Usage)) / 10.0
	if completeness > 1 {
		completeness = 1
	}

	var avgRelevance float64
	if len(b.Snippets) > 0 {
		var sum float64
		for _, s := range b.Snippets {
			sum += s.Relevance
		}
		avgRelevance = sum / float64(len(b.Snippets))
	}

	var hasHigh, hasIdle bool
	for _, u := range b.Usage {
		switch u.Intensity {
		case model.IntensityHigh:
			hasHigh = true
		case model.IntensityUnused, model.IntensityLow:
			hasIdle = true
		}
	}
	clarity := 0.0
	switch {
	case hasHigh && hasIdle:
		clarity = 0.2
	case hasHigh:
		clarity = 0.1
	}

	return completeness*0.4 + avgRelevance*0.4 + clarity
}
