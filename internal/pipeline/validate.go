package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adviseriq/advisor-cli/internal/gateway"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/pkg/safety"
)

// Validator is the validation stage: structural checks, content safety,
// the confidence floor, and per-category caps. It is the only stage allowed
// to return a partial result, when the run deadline lands mid-validation.
type Validator struct {
	gw      *gateway.Gateway
	checker safety.Checker
	opts    Options

	nowFunc func() time.Time
	newID   func() string
}

// NewValidator wires the validation stage.
func NewValidator(gw *gateway.Gateway, checker safety.Checker, opts Options) *Validator {
	return &Validator{
		gw:      gw,
		checker: checker,
		opts:    opts.withDefaults(),
		nowFunc: time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Validate turns ranked candidates into deliverable recommendations.
// Returns the recommendations, whether the result is partial or otherwise
// degraded, and a fatal error for malformed input. Candidates must already
// be ranked; caps keep the first survivors per category.
func (v *Validator) Validate(ctx context.Context, runID, customerID string, candidates []model.Candidate, runDegraded bool) ([]model.Recommendation, bool, error) {
	// A malformed candidate means a bug upstream, not bad customer data.
	// Abort before any side effects.
	for _, c := range candidates {
		if c.Confidence < 0 || c.Confidence > 1 {
			return nil, false, eris.Wrapf(ErrInconsistent, "candidate %q confidence %.3f", c.TargetFeature, c.Confidence)
		}
		if c.Description == "" {
			return nil, false, eris.Wrapf(ErrInconsistent, "candidate %q has empty description", c.TargetFeature)
		}
		if !model.ValidCategory(c.Category) {
			return nil, false, eris.Wrapf(ErrInconsistent, "candidate %q category %q", c.TargetFeature, c.Category)
		}
	}

	// Confidence floor first; no point safety-checking copy we will drop.
	eligible := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence >= v.opts.MinConfidence {
			eligible = append(eligible, c)
		}
	}

	type verdict struct {
		checked  bool
		allowed  bool
		reason   string
		degraded bool
	}
	verdicts := make([]verdict, len(eligible))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.SafetyParallelism)
	for i := range eligible {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			res, degraded, err := gateway.Call(gCtx, v.gw, gateway.SourceSafety, safety.Verdict{Allowed: true},
				func(c context.Context) (safety.Verdict, error) {
					return v.checker.Check(c, eligible[i].Description)
				})
			if err != nil {
				// Checker bugs fail closed for this candidate only.
				if gCtx.Err() == nil {
					zap.L().Warn("validation: safety check errored, dropping candidate",
						zap.String("feature", eligible[i].TargetFeature), zap.Error(err))
				}
				verdicts[i] = verdict{checked: true, allowed: false, reason: "safety check failed"}
				return nil
			}
			verdicts[i] = verdict{checked: true, allowed: res.Allowed, reason: res.Reason, degraded: degraded}
			return nil
		})
	}
	_ = g.Wait()

	partial := ctx.Err() != nil

	counts := map[model.Category]int{}
	caps := map[model.Category]int{
		model.CategoryAdoption: v.opts.MaxAdoption,
		model.CategoryUpsell:   v.opts.MaxUpsell,
	}

	degraded := runDegraded || partial
	for _, vd := range verdicts {
		if vd.degraded {
			degraded = true
		}
	}

	now := v.nowFunc()
	var out []model.Recommendation
	for i, c := range eligible {
		vd := verdicts[i]
		if !vd.checked {
			// Deadline landed before this candidate was screened.
			continue
		}
		if !vd.allowed {
			if vd.reason != "" && vd.reason != "safety check failed" {
				zap.L().Info("validation: candidate rejected by content safety",
					zap.String("feature", c.TargetFeature), zap.String("reason", vd.reason))
			}
			continue
		}
		if counts[c.Category] >= caps[c.Category] {
			continue
		}
		counts[c.Category]++

		out = append(out, model.Recommendation{
			ID:            v.newID(),
			RunID:         runID,
			CustomerID:    customerID,
			Category:      c.Category,
			TargetFeature: c.TargetFeature,
			Description:   c.Description,
			Confidence:    c.Confidence,
			Rank:          counts[c.Category],
			Degraded:      degraded,
			Annotation:    c.Annotation,
			Outcome:       model.OutcomePending,
			CreatedAt:     now,
		})
	}

	return out, degraded, nil
}
