package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"labelmorph/pkg/batch"
	"labelmorph/pkg/config"
	"labelmorph/pkg/logging"
)

func main() {
	// Parse command line arguments
	jobsPath := flag.String("jobs", "", "JSON manifest listing the jobs to run")
	reportPath := flag.String("report", "", "Write a YAML report of the run to this file")
	chartDir := flag.String("chart", "", "Directory for per-job voxel count charts")
	parallel := flag.Int("parallel", 0, "Jobs running at once (default: manifest value)")
	configPath := flag.String("config", "", "YAML or TOML configuration file (log settings)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Validate inputs
	if *jobsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	logger := logging.Open(cfg.Log, *verbose || cfg.Output.Verbose)

	manifest, err := batch.LoadManifest(*jobsPath)
	if err != nil {
		logger.Errorf("%v", err)
		logger.Shutdown()
		os.Exit(1)
	}
	if *parallel > 0 {
		manifest.Parallel = *parallel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runner := batch.NewRunner(manifest, logger)
	runner.SetChartDir(*chartDir)
	report, err := runner.Run(ctx)
	stop()
	if err != nil {
		logger.Warningf("batch interrupted: %v", err)
	}

	if *reportPath != "" {
		if err := report.Save(*reportPath); err != nil {
			logger.Errorf("%v", err)
		} else {
			fmt.Printf("Report saved to: %s\n", *reportPath)
		}
	}
	fmt.Printf("%d jobs succeeded, %d failed in %s\n", report.Succeeded, report.Failed, report.Duration)

	logger.Shutdown()
	if report.Failed > 0 {
		os.Exit(1)
	}
}
