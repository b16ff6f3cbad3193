// Package main is gradesim, an offline command line front end to the
// orientation engine. It evaluates records from a dataset file instead of
// the database, so what-if questions can be answered without a running
// stack.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
