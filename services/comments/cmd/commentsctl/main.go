package main

import (
	"fmt"
	"os"

	"github.com/example/threaded-comments/services/comments/internal/ctl"
)

func main() {
	if err := ctl.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
