package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/tjfontaine/feedfilter/internal/auth"
)

func main() {
	var roomKey string
	switch len(os.Args) {
	case 1:
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
			os.Exit(1)
		}
		roomKey = "ff_" + hex.EncodeToString(buf)
	case 2:
		roomKey = os.Args[1]
	default:
		fmt.Println("Usage: go run ./cmd/keygen [room-key]")
		fmt.Println("Prints the SHA-256 hash of a room key for config.yaml; generates a key when none is given")
		os.Exit(1)
	}

	keyHash := auth.HashAPIKey(roomKey)

	fmt.Printf("Room Key: %s\n", roomKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("room:\n")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - key_hash: \"%s\"\n", keyHash)
	fmt.Printf("      description: \"browser extension\"\n")
}
