// Command tokengen prints a bearer token for a subject, signed with the same
// JWT_SECRET and TOKEN_ISSUER the server verifies against.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/server"
)

func main() {
	subject := flag.String("sub", "", "token subject (user id)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	config := server.NewConfigFromEnv()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "tokengen: -sub is required")
		os.Exit(2)
	}

	token, err := auth.NewSigner(config.Auth.Secret, config.Auth.Issuer).Issue(*subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
