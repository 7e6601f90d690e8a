package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"zonemarket/internal/cli"
)

func main() {
	// .env があれば読み込む (無くてもよい)
	_ = godotenv.Load()

	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.Reported(err) {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
