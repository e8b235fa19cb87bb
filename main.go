package main

import (
	"os"

	"github.com/flowmatic/flowmatic/cli"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
