package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/homestead-systems/assistant-core/internal/token"
)

func main() {
	secret := make([]byte, 48)
	if _, err := rand.Read(secret); err != nil {
		fmt.Printf("Failed to generate secret: %v\n", err)
		os.Exit(1)
	}

	encoded := hex.EncodeToString(secret)
	if len(encoded) < token.MinSecretLen {
		fmt.Println("generated secret shorter than the token service's minimum, regenerate")
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env.local ---")
	fmt.Printf("JWT_SECRET=%s\n", encoded)
	fmt.Println("--------------------------------")
}
