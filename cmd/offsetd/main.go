package main

import (
	"fmt"
	"os"

	"github.com/hugolhafner/extoffset/cmd/offsetd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "offsetd:", err)
		os.Exit(1)
	}
}
