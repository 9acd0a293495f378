// Command monarch-sync triggers a server-side refresh of linked accounts,
// waits for the sync jobs to settle, and prints the resulting balances.
//
// Credentials come from MONARCH_EMAIL, MONARCH_PASSWORD, and optionally
// MONARCH_MFA_SECRET (base32 TOTP secret for unattended MFA).
//
// Run:
//
//	go run ./cmd/monarch-sync -timeout 5m -interval 10s
//	go run ./cmd/monarch-sync -accounts id1,id2
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr/funcr"

	monarch "github.com/mmkit/monarch"
)

func main() {
	var (
		accounts  = flag.String("accounts", "", "comma-separated account ids; empty refreshes all")
		timeout   = flag.Duration("timeout", 5*time.Minute, "overall wait budget for the refresh jobs")
		interval  = flag.Duration("interval", 10*time.Second, "poll interval while waiting")
		sessionAt = flag.String("session", "", "session file path (default .mm/mm_session.enc)")
		verbose   = flag.Bool("v", false, "log client internals")
	)
	flag.Parse()

	logger := funcr.New(func(prefix, args string) {
		log.Println(prefix, args)
	}, funcr.Options{Verbosity: 0})
	if *verbose {
		logger = funcr.New(func(prefix, args string) {
			log.Println(prefix, args)
		}, funcr.Options{Verbosity: 1})
	}

	cfg := monarch.DefaultConfig()
	cfg.Session.FilePath = *sessionAt

	client, err := monarch.New().
		WithConfig(cfg).
		WithCredentials(monarch.Credentials{
			Email:     os.Getenv("MONARCH_EMAIL"),
			Password:  os.Getenv("MONARCH_PASSWORD"),
			MFASecret: os.Getenv("MONARCH_MFA_SECRET"),
		}).
		WithLogger(logger).
		Build()
	if err != nil {
		log.Fatalf("build client: %v", err)
	}

	ctx := context.Background()

	var ids []string
	if *accounts != "" {
		ids = strings.Split(*accounts, ",")
	}

	start := time.Now()
	err = client.RefreshAccountsAndWait(ctx, ids, *timeout, *interval)
	switch {
	case errors.Is(err, monarch.ErrWaitTimeout):
		log.Fatalf("refresh still running after %v; check back later", *timeout)
	case errors.Is(err, monarch.ErrMFARequired):
		log.Fatal("login needs an interactive MFA code; set MONARCH_MFA_SECRET or log in via the quickstart example first")
	case err != nil:
		log.Fatalf("refresh: %v (class=%s)", err, monarch.ClassOf(err))
	}
	fmt.Printf("refresh settled in %v\n", time.Since(start).Round(time.Second))

	all, err := client.GetAccounts(ctx)
	if err != nil {
		log.Fatalf("accounts: %v", err)
	}
	for _, a := range all {
		fmt.Printf("%-30s %12.2f\n", a.DisplayName, a.CurrentBalance)
	}
}
