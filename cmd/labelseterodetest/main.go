// Command labelseterodetest is the regression driver for label set erosion:
//
//	labelseterodetest inputimage radius outputimage
package main

import (
	"context"
	"os"

	"labelmorph/pkg/driver"
	"labelmorph/pkg/labelset"
)

func main() {
	os.Exit(driver.RunHarness(context.Background(), labelset.Erode, os.Args, os.Stderr))
}
