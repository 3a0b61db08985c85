package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/askscio/github-stats-collector/internal/cli"
)

func main() {
	// A missing .env is fine, configuration also comes from the
	// process environment.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
