package main

import (
	"os"

	"github.com/heavystatus/newsroom-edge/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
