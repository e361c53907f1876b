package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/psybot/internal/bot"
	"github.com/example/psybot/internal/database"
	"github.com/example/psybot/internal/excel"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if err := database.Connect(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Optional seeding from a workbook on disk; idempotent by test name.
	if path := os.Getenv("IMPORT_FILE"); path != "" {
		result, err := excel.ImportTestsFromFile(context.Background(), path)
		if err != nil {
			log.Fatalf("Failed to import tests from %s: %v", path, err)
		}
		log.Printf("Imported tests from %s: %d created, %d skipped", path, result.TestsCreated, result.Skipped)
	}

	b, err := bot.New()
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)
		b.Stop()
	}()

	log.Println("Bot started. Press Ctrl+C to stop.")
	if err := b.Start(); err != nil {
		log.Fatalf("Bot error: %v", err)
	}
}
