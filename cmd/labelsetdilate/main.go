// Command labelsetdilate dilates (or erodes, opens, closes) every label of a 2D or 3D
// label mask by a radius given in physical units.
//
//	labelsetdilate -i mask.nii.gz -o grown.nii.gz -r 2.5
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"labelmorph/pkg/driver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := driver.RunDilateCLI(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
