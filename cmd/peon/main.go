// Command peon runs and inspects the task orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "peon:", err)
		os.Exit(1)
	}
}
