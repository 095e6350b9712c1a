// Command token mints a bearer token for local testing.
//
//	go run ./cmd/token -user u1 -name alice
package main

import (
	"chat-sync/auth"
	"chat-sync/internal"
	"flag"
	"fmt"
	"os"
	"time"
)

func main() {
	userID := flag.String("user", "", "user id carried by the token")
	username := flag.String("name", "", "username carried by the token")
	duration := flag.Duration("ttl", 0, "token lifetime, AUTH_TOKEN_DURATION when zero")
	flag.Parse()

	if err := run(*userID, *username, *duration); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(userID, username string, ttl time.Duration) error {
	if userID == "" {
		return fmt.Errorf("-user is required")
	}
	config, err := internal.LoadConfig(".env")
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = config.AuthTokenDuration
	}
	token, err := auth.NewTokens(config.JWTSecret, ttl).GenerateToken(auth.Identity{UserID: userID, Username: username})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
