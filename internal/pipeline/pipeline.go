// Package pipeline runs one company-quarter through selection, derivation
// and validation, and persists the result.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finresearch-cli/internal/derive"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/store"
	"github.com/sells-group/finresearch-cli/internal/validate"
	"github.com/sells-group/finresearch-cli/internal/waterfall"
)

// RecordStore is the slice of the store the pipeline reads and writes.
type RecordStore interface {
	GetRecord(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error)
	SaveRecord(ctx context.Context, rec *model.QuarterlyRecord) error
}

// Pipeline wires the selector, calculator and validator together.
type Pipeline struct {
	selector  *waterfall.Selector
	sources   []waterfall.Source
	calc      *derive.Calculator
	validator *validate.Validator
	store     RecordStore
}

// New creates a Pipeline. st may be nil, in which case no prior quarter is
// loaded and nothing is saved.
func New(sel *waterfall.Selector, sources []waterfall.Source, calc *derive.Calculator, v *validate.Validator, st RecordStore) *Pipeline {
	return &Pipeline{selector: sel, sources: sources, calc: calc, validator: v, store: st}
}

// Run processes one period. Validation errors land in the report; the
// record is still saved and returned.
func (p *Pipeline) Run(ctx context.Context, period model.Period) (*model.Result, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(
		zap.String("company", period.Company),
		zap.String("quarter", period.Quarter),
		zap.Int("year", period.Year),
	)
	start := time.Now()

	sel, err := p.selector.Select(ctx, period, p.sources)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: select")
	}
	rec := sel.Record

	prior, err := p.prior(ctx, period.Prior())
	if err != nil {
		return nil, err
	}
	rec.Prior = prior

	p.calc.Compute(rec, prior)
	report := p.validator.Validate(rec)
	rec.Report = report

	if p.store != nil {
		if err := p.store.SaveRecord(ctx, rec); err != nil {
			return nil, eris.Wrapf(err, "pipeline: save %s", period.Key())
		}
	}

	log.Info("pipeline: record complete",
		zap.String("source", rec.Source),
		zap.Float64("completeness", rec.Completeness),
		zap.String("status", string(report.Status)),
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)),
		zap.Bool("prior", prior != nil),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &model.Result{Record: rec, Report: report, Provenance: sel.Provenance}, nil
}

// Record runs the pipeline and returns only the record, matching the batch
// orchestrator's callback.
func (p *Pipeline) Record(ctx context.Context, period model.Period) (*model.QuarterlyRecord, error) {
	res, err := p.Run(ctx, period)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func (p *Pipeline) prior(ctx context.Context, period model.Period) (*model.QuarterlyRecord, error) {
	if p.store == nil {
		return nil, nil
	}
	rec, err := p.store.GetRecord(ctx, period)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load prior %s", period.Key())
	}
	return rec, nil
}
