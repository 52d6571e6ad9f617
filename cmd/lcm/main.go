package main

import (
	"github.com/joho/godotenv"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/internal/cli"
)

func main() {
	// A missing .env is fine; LCM_ variables may come from the environment.
	_ = godotenv.Load()
	cli.Execute()
}
