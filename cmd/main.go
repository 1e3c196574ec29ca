package main

import (
	"os"

	"github.com/jiaweing/IoT-Quiz/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
