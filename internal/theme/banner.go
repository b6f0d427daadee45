// Package theme renders the CLI banner.
package theme

import (
	"fmt"
	"io"
)

// Banner returns the birdseed banner with ANSI colors.
func Banner() string {
	const green = "\033[32m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	return "" +
		yellow + "   .  :  .   " + reset + green + "BIRDSEED" + reset + "\n" +
		yellow + "  ' .:::. '  " + reset + "incremental social timeline collector\n" +
		yellow + "     ':'     " + reset + "profiles . timelines . edges . scores . stream\n"
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}
