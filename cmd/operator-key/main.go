package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/triadarena/backend/internal/middleware"
)

// operator-key prints the OPERATOR_KEY_HASH value for a plain operator key
// given as the first argument or in OPERATOR_KEY.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	key := os.Getenv("OPERATOR_KEY")
	if len(os.Args) > 1 {
		key = os.Args[1]
	}
	if key == "" {
		log.Fatalf("usage: operator-key <key> (or set OPERATOR_KEY)")
	}
	if len(key) < 16 {
		log.Printf("WARNING: operator key is shorter than 16 characters")
	}

	hash, err := middleware.HashOperatorKey(key)
	if err != nil {
		log.Fatalf("Failed to hash operator key: %v", err)
	}

	// single quotes keep godotenv from expanding the $ segments
	fmt.Printf("OPERATOR_KEY_HASH='%s'\n", hash)
}
