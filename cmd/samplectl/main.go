// Command samplectl runs bulk sample operations against a configured store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "samplectl:", err)
		os.Exit(1)
	}
}
