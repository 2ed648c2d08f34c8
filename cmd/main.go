package main

import (
	"errors"
	"io/fs"
	"log"

	dotenv "github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; the environment and config file cover deployments without one.
	if err := dotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env file: %v", err)
	}

	if err := Execute(); err != nil {
		log.Fatal(err)
	}
}
