package main

import (
	"os"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
