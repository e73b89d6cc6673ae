// tokengen signs an access token with the server's JWT_SECRET, for
// service-to-service callers of /v1/ledger and for admin scripts.
//
//	tokengen -sub booking-svc -role service [-ttl 24h]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

func main() {
	var (
		sub  string
		role string
		ttl  time.Duration
	)
	flag.StringVar(&sub, "sub", "", "token subject (required)")
	flag.StringVar(&role, "role", middleware.RoleService, "user, admin or service")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flag.Parse()

	if err := checkFlags(sub, role, ttl); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	tok, err := utils.NewAccessToken(cfg.JWTSecret, sub, role, ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
	fmt.Println(tok.Token)
}

func checkFlags(sub, role string, ttl time.Duration) error {
	switch {
	case sub == "":
		return errors.New("-sub is required")
	case role != middleware.RoleUser && role != middleware.RoleAdmin && role != middleware.RoleService:
		return fmt.Errorf("unknown role %q", role)
	case ttl <= 0:
		return errors.New("-ttl must be positive")
	}
	return nil
}
