package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"labelmorph/pkg/labelset"
	"labelmorph/pkg/logging"
)

// RunHarness implements the positional test drivers: <input> <radius> <output>. The radius
// is a whole number in physical units, filtering runs on a single worker, and the return
// value is the process exit code.
func RunHarness(ctx context.Context, op labelset.Operation, args []string, stderr io.Writer) int {
	prog := "labelset"
	if len(args) > 0 {
		prog = args[0]
	}
	if len(args) != 4 {
		fmt.Fprintf(stderr, "Usage: %s inputimage radius outputimage\n", prog)
		return 1
	}

	radius, err := parseIntPrefix(args[2])
	if err != nil {
		fmt.Fprintf(stderr, "error: %v for arg radius\n", err)
		fmt.Fprintf(stderr, "Usage: %s inputimage radius outputimage\n", prog)
		return 1
	}

	params := &Params{
		Input:           args[1],
		Output:          args[3],
		Operation:       op,
		Radius:          []float64{float64(radius)},
		UseImageSpacing: true,
		Workers:         1,
	}
	logger := logging.New(stderr, false)
	return exitCode(NewPipeline(params, logger).Process(ctx), params.Input, stderr, logger)
}

// exitCode maps a pipeline error to the diagnostics and status of the command line tools.
func exitCode(err error, input string, stderr io.Writer, logger *logging.Logger) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrOpen):
		fmt.Fprintf(stderr, "Failed to open %s\n", input)
		logger.Debugf("%v", err)
	case errors.Is(err, ErrUnsupportedDimension):
		fmt.Fprintln(stderr, "Unsupported dimension")
		logger.Debugf("%v", err)
	default:
		logger.Errorf("%v", err)
	}
	return 1
}

// parseIntPrefix reads a leading base 10 integer the way C's atoi family does: leading
// white space and a sign are accepted, trailing characters are ignored, but at least one
// digit is required.
func parseIntPrefix(s string) (int, error) {
	t := strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(t) && (t[end] == '+' || t[end] == '-') {
		end++
	}
	digits := end
	for end < len(t) && t[end] >= '0' && t[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	n, err := strconv.Atoi(t[:end])
	if err != nil {
		return 0, fmt.Errorf("integer %q out of range", s)
	}
	return n, nil
}
