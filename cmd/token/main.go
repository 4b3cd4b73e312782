// Command token mints a development JWT for the notifications API using the
// private key configured by JWT_PRIVATE_KEY_PATH.
//
//	go run ./cmd/token -user u1 -role admin
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/go-notifications-nosql/internal/config"
	jwtinfra "github.com/go-notifications-nosql/internal/infrastructure/jwt"
	"github.com/joho/godotenv"
)

func main() {
	userID := flag.String("user", "", "user id (required)")
	role := flag.String("role", "member", "role claim")
	flag.Parse()
	if *userID == "" {
		log.Fatal("-user is required")
	}

	_ = godotenv.Load()
	p, err := jwtinfra.NewProvider(config.Load())
	if err != nil {
		log.Fatalf("load keys: %v", err)
	}
	tok, err := p.Sign(*userID, *role)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(tok)
}
