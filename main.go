package main

import (
	"github.com/joho/godotenv"

	"github.com/mphagenaars/focusferry/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// API keys may live in a local .env next to the config.
	_ = godotenv.Load()

	cmd.SetVersionInfo(version, commit, date)
	cmd.Execute()
}
