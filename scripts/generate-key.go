//go:build ignore

// Generates a random admin JWT secret and prints the environment lines needed
// to enable admin API authentication, plus the command that mints a token.
//
//	go run scripts/generate-key.go
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	randomBytes := make([]byte, 48)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}
	secret := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("==========================================================")
	fmt.Println("Admin JWT secret generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nexport GG_ADMIN_JWT_SECRET='%s'\n", secret)
	fmt.Println("\nMint a dashboard token with:")
	fmt.Println("  groupguard token dashboard")
	fmt.Println("\n==========================================================")
	fmt.Println("Send it as: Authorization: Bearer <token>")
	fmt.Println("==========================================================")
}
