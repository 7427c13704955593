// Command devtoken prints a signed access token for local testing.
//
//	go run ./cmd/devtoken -user u-1 -role CUSTOMER
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/utils"
)

func main() {
	_ = godotenv.Load()

	user := flag.String("user", "", "user id placed in the sub claim")
	role := flag.String("role", "CUSTOMER", "role claim (CUSTOMER or ADMIN)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to JWT_SECRET)")
	flag.Parse()

	tok, err := utils.NewAccessToken(*secret, *user, *role, *ttl)
	if err != nil {
		logrus.WithError(err).Fatal("cannot mint token")
	}
	fmt.Println(tok.Token)
}
