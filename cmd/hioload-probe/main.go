package main

import (
	"fmt"
	"os"

	"github.com/momentics/hioload-probe/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n", r)
			os.Exit(2)
		}
	}()
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hioload-probe:", err)
		os.Exit(1)
	}
}
