package main

import (
	"os"

	"github.com/bnema/crawlpool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
