package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"labelmorph/pkg/driver"
	"labelmorph/pkg/labelset"
	"labelmorph/pkg/logging"
	"labelmorph/pkg/visualization"
	"labelmorph/pkg/volumeio"
)

// Job status values recorded in a report
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// JobReport is the outcome of one job.
type JobReport struct {
	ID          string         `yaml:"id"`
	Input       string         `yaml:"input"`
	Output      string         `yaml:"output"`
	Operation   string         `yaml:"operation"`
	Radius      []float64      `yaml:"radius,flow"`
	Status      string         `yaml:"status"`
	Error       string         `yaml:"error,omitempty"`
	Duration    string         `yaml:"duration"`
	OutputBytes int64          `yaml:"outputBytes,omitempty"`
	OutputSize  string         `yaml:"outputSize,omitempty"`
	Chart       string         `yaml:"chart,omitempty"`
	Before      map[uint32]int `yaml:"before,omitempty"`
	After       map[uint32]int `yaml:"after,omitempty"`

	// MeanVoxels and StdDevVoxels describe the output label sizes
	MeanVoxels   float64 `yaml:"meanVoxels,omitempty"`
	StdDevVoxels float64 `yaml:"stdDevVoxels,omitempty"`

	// Verification results, present when the job asked for them
	MaxGrowth    map[uint32]float64 `yaml:"maxGrowth,omitempty"`
	ChangedSeeds *int               `yaml:"changedSeeds,omitempty"`
}

// Report summarizes a batch run.
type Report struct {
	RunID     string      `yaml:"runId"`
	Started   time.Time   `yaml:"started"`
	Duration  string      `yaml:"duration"`
	Succeeded int         `yaml:"succeeded"`
	Failed    int         `yaml:"failed"`
	Jobs      []JobReport `yaml:"jobs"`
}

// Save writes the report as YAML.
func (r *Report) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshaling report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}

// Runner executes the jobs of a manifest.
type Runner struct {
	manifest *Manifest
	logger   *logging.Logger

	// chartDir receives one count chart per successful job when set
	chartDir string
}

// NewRunner creates a runner. A nil logger discards messages.
func NewRunner(m *Manifest, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{manifest: m, logger: logger}
}

// SetChartDir enables count charts written to dir.
func (r *Runner) SetChartDir(dir string) {
	r.chartDir = dir
}

// Run executes every job, at most manifest.Parallel at a time. A failing job does not
// stop the others; only cancellation of ctx aborts the run, in which case the partial
// report is returned together with the context error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:   uuid.New().String(),
		Started: start,
		Jobs:    make([]JobReport, len(r.manifest.Jobs)),
	}
	r.logger.Infof("batch %s: %d jobs, %d at a time", report.RunID, len(r.manifest.Jobs), r.manifest.Parallel)

	var g errgroup.Group
	g.SetLimit(max(1, r.manifest.Parallel))
	for i, job := range r.manifest.Jobs {
		g.Go(func() error {
			report.Jobs[i] = r.runJob(ctx, job)
			return nil
		})
	}
	g.Wait()

	var total int64
	for _, jr := range report.Jobs {
		if jr.Status == StatusOK {
			report.Succeeded++
			total += jr.OutputBytes
		} else {
			report.Failed++
		}
	}
	report.Duration = time.Since(start).Round(time.Millisecond).String()
	r.logger.Infof("batch %s: %d succeeded, %d failed, wrote %s in %s", report.RunID,
		report.Succeeded, report.Failed, humanize.Bytes(uint64(total)), report.Duration)
	return report, ctx.Err()
}

func (r *Runner) runJob(ctx context.Context, job Job) JobReport {
	start := time.Now()
	jr := JobReport{
		ID:        uuid.New().String(),
		Input:     job.Input,
		Output:    job.Output,
		Operation: job.Operation,
		Radius:    job.Radius,
	}
	fail := func(err error) JobReport {
		jr.Status = StatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			jr.Status = StatusCancelled
		}
		jr.Error = err.Error()
		jr.Duration = time.Since(start).Round(time.Millisecond).String()
		r.logger.Errorf("job %s (%s): %v", jr.ID, job.Input, err)
		return jr
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	params, err := r.params(job)
	if err != nil {
		return fail(err)
	}
	jr.Operation = params.Operation.String()

	pipeline := driver.NewPipeline(params, r.logger)
	if err := pipeline.Process(ctx); err != nil {
		return fail(err)
	}

	res := pipeline.Result()
	jr.Status = StatusOK
	jr.Before = res.Before
	jr.After = res.After
	jr.OutputBytes = res.OutputBytes
	jr.OutputSize = humanize.Bytes(uint64(res.OutputBytes))
	jr.MeanVoxels = res.Summary.MeanVoxels
	jr.StdDevVoxels = res.Summary.StdDevVoxels
	if job.Verify {
		jr.MaxGrowth = res.MaxGrowth
		if params.Operation == labelset.Close {
			n := len(res.Violations)
			jr.ChangedSeeds = &n
		}
	}
	jr.Duration = time.Since(start).Round(time.Millisecond).String()

	if r.chartDir != "" && len(res.Before)+len(res.After) > 0 {
		chart := filepath.Join(r.chartDir, jr.ID+".png")
		if err := os.MkdirAll(r.chartDir, 0755); err != nil {
			r.logger.Warningf("job %s: could not create chart directory: %v", jr.ID, err)
		} else if err := visualization.CountChart(res.Before, res.After, chart); err != nil {
			r.logger.Warningf("job %s: %v", jr.ID, err)
		} else {
			jr.Chart = chart
		}
	}
	r.logger.Infof("job %s: %s %s -> %s (%s)", jr.ID, jr.Operation, job.Input, job.Output, jr.OutputSize)
	return jr
}

func (r *Runner) params(job Job) (*driver.Params, error) {
	op := labelset.Dilate
	if job.Operation != "" {
		parsed, err := labelset.ParseOperation(job.Operation)
		if err != nil {
			return nil, err
		}
		op = parsed
	}
	comp, err := volumeio.ParseCompression(job.Compression)
	if err != nil {
		return nil, err
	}
	useSpacing := true
	if job.UseImageSpacing != nil {
		useSpacing = *job.UseImageSpacing
	}
	return &driver.Params{
		Input:           job.Input,
		Output:          job.Output,
		Operation:       op,
		Radius:          job.Radius,
		UseImageSpacing: useSpacing,
		Workers:         r.manifest.Workers,
		Compression:     comp,
		Verify:          job.Verify,
	}, nil
}
