package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finresearch-cli/internal/model"
)

func periods(companies ...string) []model.Period {
	out := make([]model.Period, len(companies))
	for i, c := range companies {
		out[i] = model.Period{Company: c, Quarter: "Q1", Year: 2025}
	}
	return out
}

func okRun(_ context.Context, p model.Period) (*model.QuarterlyRecord, error) {
	return model.NewRecord(p), nil
}

type memArchiver struct {
	mu    sync.Mutex
	snaps []*model.BatchSnapshot
}

func (m *memArchiver) ArchiveJob(_ context.Context, snap *model.BatchSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func TestRun_PanicIsolated(t *testing.T) {
	run := func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
		if p.Company == "HCL Technologies" {
			panic("nil map write")
		}
		return okRun(ctx, p)
	}

	o := New(DefaultConfig(), run)
	snap, err := o.Run(context.Background(), periods("TCS", "HCL Technologies", "Wipro"), 2)
	require.NoError(t, err)

	assert.False(t, snap.Running)
	assert.Equal(t, 100, snap.Progress)
	require.Len(t, snap.Items, 3)
	assert.Equal(t, model.ItemSucceeded, snap.Items[0].Status)
	assert.Equal(t, model.ItemFailed, snap.Items[1].Status)
	assert.Contains(t, snap.Items[1].Error, "nil map write")
	assert.Equal(t, model.ItemSucceeded, snap.Items[2].Status)
	assert.NotNil(t, snap.Items[0].Record)
	assert.Nil(t, snap.Items[1].Record)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.NotNil(t, snap.FinishedAt)
}

func TestRun_ErrorIsolated(t *testing.T) {
	run := func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
		if p.Company == "Infosys" {
			return nil, errors.New("no sources answered")
		}
		return okRun(ctx, p)
	}

	snap, err := New(DefaultConfig(), run).Run(context.Background(), periods("Infosys", "TCS"), 1)
	require.NoError(t, err)
	assert.Equal(t, model.ItemFailed, snap.Items[0].Status)
	assert.Equal(t, "no sources answered", snap.Items[0].Error)
	assert.Equal(t, model.ItemSucceeded, snap.Items[1].Status)
}

func TestRun_BoundedWorkers(t *testing.T) {
	var active, peak atomic.Int32
	run := func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return okRun(ctx, p)
	}

	snap, err := New(DefaultConfig(), run).Run(context.Background(),
		periods("a", "b", "c", "d", "e", "f", "g", "h"), 2)
	require.NoError(t, err)
	assert.Equal(t, 8, snap.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_ItemDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	run := func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
		if p.Company == "stuck" {
			<-release // ignores ctx
			return nil, nil
		}
		return okRun(ctx, p)
	}

	cfg := Config{MaxWorkers: 2, ItemTimeout: 50 * time.Millisecond}
	snap, err := New(cfg, run).Run(context.Background(), periods("stuck", "TCS"), 0)
	require.NoError(t, err)

	assert.False(t, snap.Running)
	assert.Equal(t, model.ItemFailed, snap.Items[0].Status)
	assert.Contains(t, snap.Items[0].Error, "deadline exceeded")
	assert.Equal(t, model.ItemSucceeded, snap.Items[1].Status)
}

func TestStart_Errors(t *testing.T) {
	o := New(DefaultConfig(), okRun)
	_, err := o.Start(context.Background(), nil, 1)
	assert.ErrorIs(t, err, ErrNoItems)

	block := make(chan struct{})
	slow := New(DefaultConfig(), func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
		<-block
		return okRun(ctx, p)
	})
	job, err := slow.Start(context.Background(), periods("TCS"), 1)
	require.NoError(t, err)

	_, err = slow.Start(context.Background(), periods("Wipro"), 1)
	assert.ErrorIs(t, err, ErrRunning)

	close(block)
	<-job.Done()

	job2, err := slow.Start(context.Background(), periods("Wipro"), 1)
	require.NoError(t, err)
	<-job2.Done()
	assert.NotEqual(t, job.ID(), job2.ID())
}

func TestStop_SkipsUnstarted(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	run := func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
		started <- struct{}{}
		<-release
		return okRun(ctx, p)
	}

	o := New(DefaultConfig(), run)
	job, err := o.Start(context.Background(), periods("TCS", "Wipro", "Infosys"), 1)
	require.NoError(t, err)

	<-started
	assert.True(t, o.Stop())
	close(release)
	<-job.Done()

	snap := o.Poll()
	require.NotNil(t, snap)
	assert.False(t, snap.Running)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, model.ItemSucceeded, snap.Items[0].Status, "in-flight item finishes")
	assert.Equal(t, model.ItemSkipped, snap.Items[1].Status)
	assert.Equal(t, model.ItemSkipped, snap.Items[2].Status)
	assert.Equal(t, 2, snap.Skipped)

	assert.False(t, o.Stop(), "nothing left to stop")
}

func TestPoll_ProgressMonotonic(t *testing.T) {
	o := New(DefaultConfig(), func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
		time.Sleep(time.Millisecond)
		return okRun(ctx, p)
	})
	assert.Nil(t, o.Poll())

	job, err := o.Start(context.Background(), periods("a", "b", "c", "d", "e", "f"), 3)
	require.NoError(t, err)

	last := 0
	for {
		snap := o.Poll()
		require.NotNil(t, snap)
		assert.GreaterOrEqual(t, snap.Progress, last)
		last = snap.Progress
		if !snap.Running {
			break
		}
		time.Sleep(time.Millisecond)
	}
	<-job.Done()
	assert.Equal(t, 100, last)
}

func TestRun_Archives(t *testing.T) {
	arch := &memArchiver{}
	snap, err := New(DefaultConfig(), okRun, WithArchiver(arch)).Run(context.Background(), periods("TCS"), 1)
	require.NoError(t, err)

	arch.mu.Lock()
	defer arch.mu.Unlock()
	require.Len(t, arch.snaps, 1)
	assert.Equal(t, snap.ID, arch.snaps[0].ID)
	assert.False(t, arch.snaps[0].Running)
}

func TestDrain(t *testing.T) {
	o := New(DefaultConfig(), okRun)
	require.NoError(t, o.Drain(context.Background()), "no job")

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := New(DefaultConfig(), func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
		started <- struct{}{}
		<-release
		return okRun(ctx, p)
	})
	_, err := slow.Start(context.Background(), periods("TCS", "Wipro"), 1)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, slow.Drain(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, slow.Drain(context.Background()))
	snap := slow.Poll()
	assert.False(t, snap.Running)
	assert.Equal(t, model.ItemSucceeded, snap.Items[0].Status)
	assert.Equal(t, model.ItemSkipped, snap.Items[1].Status)
}
