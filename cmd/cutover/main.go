package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/campusbridge/cutover/internal/cli"
	"github.com/campusbridge/cutover/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	defer logger.Close()

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
