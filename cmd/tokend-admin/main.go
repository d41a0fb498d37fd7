// Command tokend-admin manages the signing-key lifecycle out of band:
// first-key bootstrap, manual rotation, activation and emergency
// revocation. The serving path never provisions keys itself, so a new
// deployment runs `tokend-admin -bootstrap` exactly once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stratumsec/tokend/internal/config"
	"github.com/stratumsec/tokend/internal/infrastructure/crypto"
	"github.com/stratumsec/tokend/internal/infrastructure/persistence/postgres"
	"github.com/stratumsec/tokend/pkg/logger"
)

func main() {
	bootstrap := flag.Bool("bootstrap", false, "generate and activate the first signing key if none is active")
	rotate := flag.Bool("rotate", false, "generate a fresh signing key and activate it")
	generate := flag.Bool("generate", false, "generate a signing key without activating it")
	activate := flag.String("activate", "", "activate the signing key with the given kid")
	revoke := flag.String("revoke", "", "emergency-revoke the signing key with the given kid and activate a replacement")
	cleanup := flag.Bool("cleanup", false, "remove signing keys expired for more than 24h")
	list := flag.Bool("list", false, "list unexpired signing keys")
	flag.Parse()

	if err := run(*bootstrap, *rotate, *generate, *activate, *revoke, *cleanup, *list); err != nil {
		fmt.Fprintf(os.Stderr, "tokend-admin: %v\n", err)
		os.Exit(1)
	}
}

func run(bootstrap, rotate, generate bool, activate, revoke string, cleanup, list bool) error {
	log := logger.New("warn")
	cfg, err := config.Load(log)
	if err != nil {
		return err
	}

	gormDB, err := postgres.NewGormDB(&cfg.Database)
	if err != nil {
		return err
	}
	kek, err := crypto.NewKEKProvider(cfg)
	if err != nil {
		return err
	}
	keys := crypto.NewKeyManager(postgres.NewKeyRepository(gormDB, log), kek, log,
		cfg.Keys.Size, cfg.Keys.Validity(), cfg.Keys.RotationInterval())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case bootstrap:
		key, created, err := keys.Bootstrap(ctx)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("bootstrapped signing key %s (expires %s)\n", key.KID, key.ExpiresAt.Format(time.RFC3339))
		} else {
			fmt.Printf("active signing key already present: %s\n", key.KID)
		}
	case rotate:
		key, err := keys.Rotate(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("rotated to signing key %s (expires %s)\n", key.KID, key.ExpiresAt.Format(time.RFC3339))
	case generate:
		key, err := keys.GenerateKeyPair(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("generated signing key %s (inactive, expires %s)\n", key.KID, key.ExpiresAt.Format(time.RFC3339))
	case activate != "":
		if err := keys.ActivateKeyPair(ctx, activate); err != nil {
			return err
		}
		fmt.Printf("activated signing key %s\n", activate)
	case revoke != "":
		replacement, err := keys.EmergencyRevoke(ctx, revoke)
		if err != nil {
			return err
		}
		fmt.Printf("revoked %s, replacement %s is active\n", revoke, replacement.KID)
	case cleanup:
		removed, err := keys.CleanupExpiredKeys(ctx, time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired signing keys\n", removed)
	case list:
		doc, err := keys.JWKSDocument(ctx)
		if err != nil {
			return err
		}
		for _, key := range doc.Keys {
			fmt.Printf("%s %s\n", key.Kid, key.Alg)
		}
	default:
		flag.Usage()
		return fmt.Errorf("no action given")
	}
	return nil
}
