package main

import (
	"fmt"
	"log"
	"os"

	"github.com/astronote/astronote-backend/internal/config"
	"github.com/astronote/astronote-backend/internal/db"
)

// Applies the schema and sample data from seed/, in order.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	database, err := db.Open(cfg.DSN())
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	seedFiles := []string{
		"seed/schema.sql",
		"seed/owners.sql",
		"seed/contacts.sql",
		"seed/campaigns.sql",
		"seed/automations.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}
		if _, err := database.Exec(string(content)); err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	fmt.Println("Database seeding completed successfully!")
}
