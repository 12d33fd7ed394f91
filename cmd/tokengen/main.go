// Command tokengen prints a signed access token for local testing.  Login
// flows live outside this service; the token carries only a user ID and a
// role.
//
//	go run ./cmd/tokengen -user 42 -role STAFF -ttl 2h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/library-reservations/internal/service"
	"github.com/iliyamo/library-reservations/internal/utils"
)

func main() {
	_ = godotenv.Load()

	userID := flag.Uint64("user", 0, "user ID placed in the sub claim (required)")
	role := flag.String("role", service.RoleUser, "USER, STAFF or ADMIN")
	ttl := flag.Duration("ttl", defaultTTL(), "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	if *userID == 0 {
		log.Fatal("-user is required")
	}
	r := strings.ToUpper(*role)
	switch r {
	case service.RoleUser, service.RoleStaff, service.RoleAdmin:
	default:
		log.Fatalf("unknown role %q", *role)
	}

	tok, err := utils.NewAccessToken(secret, *userID, r, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}

// defaultTTL honours ACCESS_TOKEN_TTL_MIN like the server's configuration.
func defaultTTL() time.Duration {
	if n, err := strconv.Atoi(os.Getenv("ACCESS_TOKEN_TTL_MIN")); err == nil && n > 0 {
		return time.Duration(n) * time.Minute
	}
	return time.Hour
}
