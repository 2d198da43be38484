package main

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peer-seek/internal/client/cmd"
)

func main() {
	if err := cmd.TrackerCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
