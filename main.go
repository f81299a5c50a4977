package main

import (
	"fmt"
	"os"

	"github.com/mumchip/reattrib/cmd"
	"github.com/mumchip/reattrib/internal/clierr"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "reattrib: %v\n", err)
		os.Exit(clierr.ExitCodeOf(err))
	}
}
