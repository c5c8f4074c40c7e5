// Package pipeline implements the four-stage recommendation pipeline:
// retrieval and sentiment in parallel, then reasoning, then validation,
// with a hard run deadline and a persisted audit trail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adviseriq/advisor-cli/internal/cache"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/store"
	"github.com/adviseriq/advisor-cli/pkg/crm"
)

// Pipeline orchestrates one recommendation run end to end.
type Pipeline struct {
	retriever *Retriever
	sentiment *SentimentAnalyzer
	reasoner  *Reasoner
	validator *Validator
	store     store.Store
	crm       crm.Client
	profiles  *cache.Cache[*model.CustomerProfile]
	opts      Options

	nowFunc func() time.Time
	newID   func() string
}

// New creates a pipeline with all dependencies.
func New(
	retriever *Retriever,
	sentiment *SentimentAnalyzer,
	reasoner *Reasoner,
	validator *Validator,
	st store.Store,
	crmClient crm.Client,
	profiles *cache.Cache[*model.CustomerProfile],
	opts Options,
) *Pipeline {
	return &Pipeline{
		retriever: retriever,
		sentiment: sentiment,
		reasoner:  reasoner,
		validator: validator,
		store:     st,
		crm:       crmClient,
		profiles:  profiles,
		opts:      opts.withDefaults(),
		nowFunc:   time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Run executes the full pipeline for one customer. Returns
// crm.ErrCustomerNotFound for unknown customers, ErrTimeout when the
// deadline expires before validation starts, and ErrInconsistent for
// internal candidate corruption. A degraded run is a success with
// Degraded=true, never an error.
func (p *Pipeline) Run(ctx context.Context, customerID string) (*model.RunResult, error) {
	runID := p.newID()
	log := zap.L().With(zap.String("run_id", runID), zap.String("customer_id", customerID))
	log.Info("pipeline: run started")

	ctx, cancel := context.WithTimeout(ctx, p.opts.Deadline)
	defer cancel()

	result := &model.RunResult{
		RunID:      runID,
		CustomerID: customerID,
		State:      model.RunStarted,
		StartedAt:  p.nowFunc(),
	}

	setState := func(s model.RunState) {
		result.State = s
		log.Debug("pipeline: state change", zap.String("state", string(s)))
	}

	// Stage tracking, one contribution per stage per run.
	var contribMu sync.Mutex
	track := func(stage model.Stage, fn func() (model.StageStatus, string, float64, map[string]string)) {
		start := time.Now()
		status, summary, confidence, detail := fn()
		duration := time.Since(start).Milliseconds()

		contribMu.Lock()
		result.Contributions = append(result.Contributions, model.StageContribution{
			ID:         p.newID(),
			RunID:      runID,
			Stage:      stage,
			Status:     status,
			Summary:    summary,
			Confidence: confidence,
			DurationMS: duration,
			Detail:     detail,
			RecordedAt: p.nowFunc(),
		})
		contribMu.Unlock()

		log.Info("pipeline: stage finished",
			zap.String("stage", string(stage)),
			zap.String("status", string(status)),
			zap.Int64("duration_ms", duration))
	}

	// Customer lookup gates everything; an unknown ID is a caller error.
	profile, err := p.lookupProfile(ctx, customerID)
	if err != nil {
		setState(model.RunFailed)
		return result, err
	}

	// ===== Retrieval and sentiment, in parallel =====
	setState(model.RunRetrievingAndSensing)

	var (
		evidence  model.EvidenceBundle
		sentiment model.SentimentAssessment
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		track(model.StageRetrieval, func() (model.StageStatus, string, float64, map[string]string) {
			bundle, retErr := p.retriever.Retrieve(gCtx, profile)
			if retErr != nil {
				return model.StageFailed, "evidence retrieval failed: " + retErr.Error(), 0, nil
			}
			evidence = bundle
			status := model.StageSucceeded
			if bundle.Degraded {
				status = model.StageDegraded
			}
			return status,
				fmt.Sprintf("gathered %d usage records and %d snippets", len(bundle.Usage), len(bundle.Snippets)),
				bundle.Confidence,
				map[string]string{
					"usage_records": strconv.Itoa(len(bundle.Usage)),
					"snippets":      strconv.Itoa(len(bundle.Snippets)),
					"degraded":      strconv.FormatBool(bundle.Degraded),
				}
		})
		return nil
	})

	g.Go(func() error {
		track(model.StageSentiment, func() (model.StageStatus, string, float64, map[string]string) {
			sentiment = p.sentiment.Assess(gCtx, customerID)
			status := model.StageSucceeded
			if sentiment.Degraded {
				status = model.StageDegraded
			}
			return status,
				fmt.Sprintf("score %.2f (%s, %s) from %d interactions", sentiment.Score, sentiment.Label, sentiment.Trend, sentiment.EventCount),
				sentiment.Confidence,
				map[string]string{
					"score":  fmt.Sprintf("%.3f", sentiment.Score),
					"trend":  string(sentiment.Trend),
					"events": strconv.Itoa(sentiment.EventCount),
				}
		})
		return nil
	})

	// Stage outcomes are captured per stage; errors never cancel the
	// sibling.
	_ = g.Wait()

	if evidence.CustomerID == "" {
		// Retrieval failed outright; run on an empty, degraded bundle.
		evidence = model.EvidenceBundle{CustomerID: customerID, Degraded: true, FetchedAt: p.nowFunc()}
	}
	if sentiment.CustomerID == "" {
		sentiment = model.SentimentAssessment{CustomerID: customerID, Label: model.SentimentNeutral, Trend: model.TrendStable, Degraded: true, AssessedAt: p.nowFunc()}
	}

	if err := p.deadlineCheck(ctx); err != nil {
		setState(model.RunFailed)
		return result, err
	}

	// ===== Reasoning =====
	setState(model.RunReasoning)

	priors, priorsDegraded := p.loadPriors(ctx, customerID, log)

	var (
		candidates []model.Candidate
		notes      []string
	)
	var reasonErr error
	track(model.StageReasoning, func() (model.StageStatus, string, float64, map[string]string) {
		candidates, notes, reasonErr = p.reasoner.Reason(ctx, profile, evidence, sentiment, priors)
		if reasonErr != nil {
			return model.StageFailed, "candidate generation failed: " + reasonErr.Error(), 0, nil
		}
		return model.StageSucceeded,
			fmt.Sprintf("produced %d candidates against %d prior recommendations", len(candidates), len(priors)),
			0,
			map[string]string{
				"candidates": strconv.Itoa(len(candidates)),
				"priors":     strconv.Itoa(len(priors)),
			}
	})
	if reasonErr != nil {
		setState(model.RunFailed)
		return result, eris.Wrap(reasonErr, "pipeline: reasoning")
	}

	if err := p.deadlineCheck(ctx); err != nil {
		setState(model.RunFailed)
		return result, err
	}

	// ===== Validation =====
	setState(model.RunValidating)

	runDegraded := evidence.Degraded || sentiment.Degraded || priorsDegraded

	var (
		recs     []model.Recommendation
		degraded bool
		valErr   error
	)
	track(model.StageValidation, func() (model.StageStatus, string, float64, map[string]string) {
		recs, degraded, valErr = p.validator.Validate(ctx, runID, customerID, candidates, runDegraded)
		if valErr != nil {
			return model.StageFailed, "validation failed: " + valErr.Error(), 0, nil
		}
		status := model.StageSucceeded
		if degraded {
			status = model.StageDegraded
		}
		return status,
			fmt.Sprintf("approved %d of %d candidates", len(recs), len(candidates)),
			0,
			map[string]string{
				"approved": strconv.Itoa(len(recs)),
				"partial":  strconv.FormatBool(ctx.Err() != nil),
			}
	})
	if valErr != nil {
		setState(model.RunFailed)
		return result, valErr
	}

	// Attach the reasoning chain and fan contributions out per
	// recommendation.
	chain := p.reasoningChain(result.Contributions, notes)
	for i := range recs {
		recs[i].ReasoningChain = chain
		if degraded {
			recs[i].Degraded = true
		}
	}

	if err := p.persist(ctx, recs, result.Contributions, log); err != nil {
		setState(model.RunFailed)
		return result, eris.Wrap(err, "pipeline: persist run")
	}

	result.Recommendations = recs
	result.Degraded = degraded
	result.FinishedAt = p.nowFunc()
	setState(model.RunCompleted)

	log.Info("pipeline: run complete",
		zap.Int("recommendations", len(recs)),
		zap.Bool("degraded", degraded),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))

	return result, nil
}

// lookupProfile resolves the customer through the short-TTL profile cache.
// A CRM outage yields a minimal profile so the run can continue degraded;
// an unknown customer is a hard error.
func (p *Pipeline) lookupProfile(ctx context.Context, customerID string) (*model.CustomerProfile, error) {
	profile, err := p.profiles.GetOrLoad(ctx, "profile:"+customerID, p.opts.ProfileTTL,
		func(c context.Context) (*model.CustomerProfile, error) {
			return p.crm.GetCustomer(c, customerID)
		})
	if err == nil {
		return profile, nil
	}
	if errors.Is(err, crm.ErrCustomerNotFound) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ErrTimeout
	}

	zap.L().Warn("pipeline: profile lookup degraded",
		zap.String("customer_id", customerID), zap.Error(err))
	return &model.CustomerProfile{ID: customerID}, nil
}

// loadPriors fetches the customer's recommendation history for duplicate
// suppression. A store failure skips suppression rather than failing the
// run.
func (p *Pipeline) loadPriors(ctx context.Context, customerID string, log *zap.Logger) ([]model.Recommendation, bool) {
	months := p.opts.DeclinedWindowDays/30 + 1
	priors, err := p.store.PriorRecommendations(ctx, customerID, months)
	if err != nil {
		log.Warn("pipeline: prior lookup failed, suppression skipped", zap.Error(err))
		return nil, true
	}
	return priors, false
}

func (p *Pipeline) deadlineCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
	return nil
}

// reasoningChain flattens the stage summaries plus reasoning notes into the
// per-recommendation explanation trail.
func (p *Pipeline) reasoningChain(contribs []model.StageContribution, notes []string) []string {
	byStage := make(map[model.Stage]model.StageContribution, len(contribs))
	for _, c := range contribs {
		byStage[c.Stage] = c
	}
	var chain []string
	for _, stage := range model.Stages {
		if c, ok := byStage[stage]; ok {
			chain = append(chain, fmt.Sprintf("%s: %s", stage, c.Summary))
		}
	}
	return append(chain, notes...)
}

// persist writes recommendations plus one contribution copy per stage per
// recommendation in a single transaction. The write runs on a detached
// context so an expiring run deadline cannot tear the transaction.
func (p *Pipeline) persist(ctx context.Context, recs []model.Recommendation, stageContribs []model.StageContribution, log *zap.Logger) error {
	if len(recs) == 0 {
		log.Info("pipeline: nothing to persist")
		return nil
	}

	contribs := make([]model.StageContribution, 0, len(recs)*len(stageContribs))
	for _, rec := range recs {
		for _, sc := range stageContribs {
			sc.ID = p.newID()
			sc.RecommendationID = rec.ID
			contribs = append(contribs, sc)
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return p.store.PersistRecommendations(writeCtx, recs, contribs)
}
