package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/ucp-agent/internal/cli"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
