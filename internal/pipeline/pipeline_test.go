package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finresearch-cli/internal/derive"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/store"
	"github.com/sells-group/finresearch-cli/internal/validate"
	"github.com/sells-group/finresearch-cli/internal/waterfall"
)

func staticSource(name string, kind model.SourceKind, values map[model.IndicatorName]float64) waterfall.Source {
	return waterfall.Source{
		Name: name,
		Extract: func(context.Context, model.Period) (map[model.IndicatorName]model.Indicator, error) {
			out := make(map[model.IndicatorName]model.Indicator, len(values))
			for n, v := range values {
				out[n] = model.Indicator{Name: n, Value: v, Confidence: 0.9, Source: kind}
			}
			return out, nil
		},
	}
}

func tcsSources() []waterfall.Source {
	return []waterfall.Source{
		staticSource("perplexity", model.SourceAIText, map[model.IndicatorName]float64{
			model.TotalIncome: 63973,
			model.EBITDA:      17500,
		}),
		staticSource("moneycontrol", model.SourceScrapedHTML, map[model.IndicatorName]float64{
			model.EBIT: 16300,
			model.PBT:  16000,
			model.PAT:  12380,
		}),
	}
}

func newPipeline(sources []waterfall.Source, st RecordStore) *Pipeline {
	return New(
		waterfall.NewSelector(waterfall.DefaultConfig()),
		sources,
		derive.New(derive.DefaultConfig()),
		validate.New(validate.DefaultConfig()),
		st,
	)
}

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var q3 = model.Period{Company: "TCS", Quarter: "Q3", Year: 2025}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)

	prior := model.NewRecord(q3.Prior())
	prior.Set(model.Indicator{Name: model.TotalIncome, Value: 64259, Confidence: 1, Source: model.SourceScrapedHTML})
	prior.Set(model.Indicator{Name: model.PAT, Value: 11909, Confidence: 1, Source: model.SourceScrapedHTML})
	require.NoError(t, st.SaveRecord(ctx, prior))

	res, err := newPipeline(tcsSources(), st).Run(ctx, q3)
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, "perplexity+moneycontrol", rec.Source)
	assert.Equal(t, "perplexity", res.Provenance[model.TotalIncome].Source)
	assert.Equal(t, "moneycontrol", res.Provenance[model.PAT].Source)

	// Margins and growth come from derive.
	assert.InDelta(t, 100*12380.0/63973.0, rec.Indicators[model.PATPct].Value, 1e-3)
	assert.InDelta(t, 100*(63973.0-64259.0)/64259.0, rec.Indicators[model.TotalIncomeGrowthPct].Value, 1e-3)
	assert.InDelta(t, 100*(12380.0-11909.0)/11909.0, rec.Indicators[model.PATGrowthPct].Value, 1e-3)

	require.NotNil(t, res.Report)
	assert.Same(t, res.Report, rec.Report)
	assert.Empty(t, res.Report.Errors)

	saved, err := st.GetRecord(ctx, q3)
	require.NoError(t, err)
	assert.Equal(t, rec.Source, saved.Source)
	assert.Contains(t, saved.Indicators, model.PATGrowthPct)
	require.NotNil(t, saved.Report)
	assert.Equal(t, res.Report.Status, saved.Report.Status)
}

func TestRun_NoPrior(t *testing.T) {
	res, err := newPipeline(tcsSources(), newSQLite(t)).Run(context.Background(), q3)
	require.NoError(t, err)
	assert.NotContains(t, res.Record.Indicators, model.TotalIncomeGrowthPct)
	assert.Nil(t, res.Record.Prior)
}

func TestRun_PartialStillSaved(t *testing.T) {
	st := newSQLite(t)
	sources := []waterfall.Source{
		staticSource("perplexity", model.SourceAIText, map[model.IndicatorName]float64{model.TotalIncome: 100}),
	}

	res, err := newPipeline(sources, st).Run(context.Background(), q3)
	require.NoError(t, err)
	assert.Equal(t, model.SourcePartial, res.Record.Source)

	_, err = st.GetRecord(context.Background(), q3)
	assert.NoError(t, err)
}

func TestRun_WithoutStore(t *testing.T) {
	res, err := newPipeline(tcsSources(), nil).Run(context.Background(), q3)
	require.NoError(t, err)
	assert.Contains(t, res.Record.Indicators, model.PATPct)
}

type failingStore struct {
	getErr, saveErr error
}

func (f failingStore) GetRecord(context.Context, model.Period) (*model.QuarterlyRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return nil, store.ErrNotFound
}

func (f failingStore) SaveRecord(context.Context, *model.QuarterlyRecord) error { return f.saveErr }

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newPipeline(tcsSources(), nil).Run(ctx, model.Period{Company: "TCS", Quarter: "Q5", Year: 2025})
	assert.Error(t, err)

	_, err = newPipeline(nil, nil).Run(ctx, q3)
	assert.ErrorIs(t, err, waterfall.ErrNoSources)

	_, err = newPipeline(tcsSources(), failingStore{getErr: errors.New("db locked")}).Run(ctx, q3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: load prior TCS/Q2/2025")

	_, err = newPipeline(tcsSources(), failingStore{saveErr: errors.New("disk full")}).Run(ctx, q3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: save TCS/Q3/2025")
}

func TestRecord(t *testing.T) {
	rec, err := newPipeline(tcsSources(), nil).Record(context.Background(), q3)
	require.NoError(t, err)
	assert.Equal(t, q3, rec.Period)
	assert.NotNil(t, rec.Report)
}
