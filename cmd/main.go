package main

import (
	"os"

	"github.com/suryapaul01/quizplay-robot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
