package driver

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"

	"labelmorph/pkg/config"
	"labelmorph/pkg/labelset"
	"labelmorph/pkg/logging"
	"labelmorph/pkg/volumeio"
)

// flagErrorPatterns recognize the two FlagSet.Parse errors that are not raised by a
// flag value: an undefined flag and a flag missing its argument.
var flagErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(flag needs an argument): -(\S+)$`),
	regexp.MustCompile(`^(flag provided but not defined): -(\S+)$`),
}

// argError is a command line error tied to one argument.
type argError struct {
	msg string
	arg string
}

func (e *argError) Error() string {
	return fmt.Sprintf("%s for arg %s", e.msg, e.arg)
}

// trackedValue records the first value that fails to parse, so the error can name its
// flag without reading the message flag builds around it.
type trackedValue struct {
	flag.Value
	name   string
	failed **argError
}

func (v *trackedValue) Set(s string) error {
	err := v.Value.Set(s)
	if err != nil && *v.failed == nil {
		*v.failed = &argError{msg: fmt.Sprintf("invalid value %q: %v", s, err), arg: v.name}
	}
	return err
}

// String is safe on the zero value, which PrintDefaults builds to detect defaults.
func (v *trackedValue) String() string {
	if v == nil || v.Value == nil {
		return ""
	}
	return v.Value.String()
}

func (v *trackedValue) IsBoolFlag() bool {
	b, ok := v.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

// trackValues wraps every flag of fs so parse failures land in failed.
func trackValues(fs *flag.FlagSet, failed **argError) {
	fs.VisitAll(func(f *flag.Flag) {
		f.Value = &trackedValue{Value: f.Value, name: f.Name, failed: failed}
	})
}

func toArgError(err error) *argError {
	var ae *argError
	if errors.As(err, &ae) {
		return ae
	}
	s := err.Error()
	for _, re := range flagErrorPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return &argError{msg: m[1], arg: m[2]}
		}
	}
	return &argError{msg: s, arg: "?"}
}

// cliFlags holds the raw flag values of RunDilateCLI.
type cliFlags struct {
	input       string
	output      string
	radius      float64
	configPath  string
	workers     int
	useSpacing  bool
	op          string
	compression string
	logfile     string
	verbose     bool
	previewDir  string
	scale       int
	verify      bool
	writeConfig string
}

func newFlagSet(prog string, f *cliFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.StringVar(&f.input, "i", "", "input image (label mask)")
	fs.StringVar(&f.input, "input", "", "input image (label mask)")
	fs.StringVar(&f.output, "o", "", "output image")
	fs.StringVar(&f.output, "output", "", "output image")
	fs.Float64Var(&f.radius, "r", -1, "radius")
	fs.Float64Var(&f.radius, "radius", -1, "radius")
	fs.StringVar(&f.configPath, "config", "", "YAML or TOML configuration file")
	fs.IntVar(&f.workers, "workers", 1, "number of goroutines used by the filter")
	fs.BoolVar(&f.useSpacing, "use-spacing", true, "interpret the radius in physical units")
	fs.StringVar(&f.op, "op", labelset.Dilate.String(), "operation: dilate, erode, open or close")
	fs.StringVar(&f.compression, "compression", "", "compression of .lbl outputs: none, snappy or zstd")
	fs.StringVar(&f.logfile, "log", "", "log file (default stderr)")
	fs.BoolVar(&f.verbose, "v", false, "verbose logging")
	fs.StringVar(&f.previewDir, "slices", "", "directory for colored PNG previews of the output along z")
	fs.IntVar(&f.scale, "slice-scale", 1, "magnification of the preview slices")
	fs.BoolVar(&f.verify, "verify", false, "report label growth (dilate) or changed seed voxels (close)")
	fs.StringVar(&f.writeConfig, "write-config", "", "write a default YAML or TOML configuration file and exit")
	return fs
}

// buildParams merges the configuration file with the flags that were set explicitly.
func buildParams(fs *flag.FlagSet, f *cliFlags) (*Params, *config.Config, error) {
	cfg := config.DefaultConfig()
	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, nil, &argError{msg: err.Error(), arg: "config"}
		}
		cfg = loaded
	}

	if f.input == "" {
		return nil, nil, &argError{msg: "missing required argument", arg: "i (input)"}
	}
	if f.output == "" {
		return nil, nil, &argError{msg: "missing required argument", arg: "o (output)"}
	}

	params := &Params{
		Input:           f.input,
		Output:          f.output,
		Radius:          cfg.Morphology.Radius,
		UseImageSpacing: cfg.Morphology.UseImageSpacing,
		Workers:         cfg.Morphology.Workers,
		Compression:     cfg.CompressionMode(),
		PreviewDir:      f.previewDir,
		PreviewScale:    f.scale,
		Verify:          f.verify,
	}

	switch {
	case set["r"] || set["radius"]:
		if f.radius < 0 {
			return nil, nil, &argError{msg: fmt.Sprintf("radius %g is negative", f.radius), arg: "r (radius)"}
		}
		params.Radius = []float64{f.radius}
	case f.configPath == "":
		return nil, nil, &argError{msg: "missing required argument", arg: "r (radius)"}
	}
	if set["use-spacing"] {
		params.UseImageSpacing = f.useSpacing
	}
	if set["workers"] {
		if f.workers < 0 {
			return nil, nil, &argError{msg: fmt.Sprintf("negative worker count %d", f.workers), arg: "workers"}
		}
		params.Workers = f.workers
	}

	op, err := labelset.ParseOperation(f.op)
	if err != nil {
		return nil, nil, &argError{msg: err.Error(), arg: "op"}
	}
	params.Operation = op

	if set["compression"] {
		c, err := volumeio.ParseCompression(f.compression)
		if err != nil {
			return nil, nil, &argError{msg: err.Error(), arg: "compression"}
		}
		params.Compression = c
	}
	if set["log"] {
		cfg.Log.Logfile = f.logfile
	}
	if set["v"] {
		cfg.Output.Verbose = f.verbose
	}
	return params, cfg, nil
}

// RunDilateCLI implements the flag driven tool. args includes the program name; the
// return value is the process exit code.
func RunDilateCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	prog := "labelsetdilate"
	if len(args) > 0 {
		prog = args[0]
		args = args[1:]
	}

	var f cliFlags
	fs := newFlagSet(prog, &f)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s -i <input> -o <output> -r <radius> [options]\n", prog)
		fs.PrintDefaults()
	}

	// flag errors are reported in our own format below
	var badValue *argError
	trackValues(fs, &badValue)
	fs.SetOutput(io.Discard)
	err := fs.Parse(args)
	fs.SetOutput(stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		fs.Usage()
		return 0
	case badValue != nil:
		err = badValue
	case err == nil && fs.NArg() > 0:
		err = &argError{msg: "unexpected positional argument", arg: fs.Arg(0)}
	case err == nil && f.writeConfig != "":
		if err := config.CreateDefaultConfigFile(f.writeConfig); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Default configuration written to: %s\n", f.writeConfig)
		return 0
	}

	var (
		params *Params
		cfg    *config.Config
	)
	if err == nil {
		params, cfg, err = buildParams(fs, &f)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", toArgError(err))
		return 1
	}

	logger := logging.New(stderr, cfg.Output.Verbose)
	if cfg.Log.Logfile != "" {
		logger = logging.Open(cfg.Log, cfg.Output.Verbose)
	}
	defer logger.Shutdown()
	logger.Debugf("%s radius %v, spacing %t, %d workers", params.Operation, params.Radius,
		params.UseImageSpacing, params.Workers)

	pipeline := NewPipeline(params, logger)
	if err := pipeline.Process(ctx); err != nil {
		return exitCode(err, params.Input, stderr, logger)
	}

	res := pipeline.Result()
	fmt.Fprintf(stdout, "%s: %d labels, %d -> %d labeled voxels, wrote %s (%s) in %s\n",
		params.Operation, len(res.After), sumCounts(res.Before), sumCounts(res.After),
		params.Output, humanize.Bytes(uint64(res.OutputBytes)), res.Duration.Round(time.Millisecond))
	if params.Verify {
		switch {
		case res.MaxGrowth != nil:
			fmt.Fprintf(stdout, "max growth: %.3f\n", maxValue(res.MaxGrowth))
		case params.Operation == labelset.Close:
			fmt.Fprintf(stdout, "changed seed voxels: %d\n", len(res.Violations))
		}
	}
	return 0
}

func maxValue(m map[uint32]float64) float64 {
	best := 0.0
	for _, v := range m {
		best = max(best, v)
	}
	return best
}

func sumCounts(counts map[uint32]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
