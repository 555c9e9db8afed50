// Command labelsetdilatetest is the regression driver for label set dilation:
//
//	labelsetdilatetest inputimage radius outputimage
package main

import (
	"context"
	"os"

	"labelmorph/pkg/driver"
	"labelmorph/pkg/labelset"
)

func main() {
	os.Exit(driver.RunHarness(context.Background(), labelset.Dilate, os.Args, os.Stderr))
}
