// Command footprint-seal produces and inspects wire bodies and access tokens with the gateway keys.
//
//	footprint-seal -encrypt '{"distance":1.2}'
//	footprint-seal -encrypt @walk.json -token kakao_1
//	footprint-seal -decrypt 5f1c...
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/footprint-labs/footprint/internal/config"
	"github.com/footprint-labs/footprint/internal/middleware"
)

func main() {
	envFile := flag.String("env", "", "env file with FOOTPRINT_ENCRYPT_KEY and FOOTPRINT_JWT_SECRET")
	encrypt := flag.String("encrypt", "", "plaintext body to encrypt; @file reads a file, - reads stdin")
	decrypt := flag.String("decrypt", "", "ciphertext to decrypt; @file reads a file, - reads stdin")
	token := flag.String("token", "", "mint an access token for this user id")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to AUTH_TOKEN_TTL)")
	flag.Parse()

	if *encrypt == "" && *decrypt == "" && *token == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*envFile, *encrypt, *decrypt, *token, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "footprint-seal: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile, encrypt, decrypt, userID string, ttl time.Duration) error {
	var (
		cfg *config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.LoadFile(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	cipher, err := cfg.Crypto.Cipher()
	if err != nil {
		return err
	}

	if encrypt != "" {
		plain, err := readArg(encrypt)
		if err != nil {
			return err
		}
		sealed, err := cipher.Encrypt(plain)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		fmt.Printf("body: %s\n", sealed)
	}

	if decrypt != "" {
		sealed, err := readArg(decrypt)
		if err != nil {
			return err
		}
		plain, err := cipher.Decrypt(sealed)
		if err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
		fmt.Printf("plaintext: %s\n", plain)
	}

	if userID != "" {
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		tok, err := middleware.IssueToken([]byte(cfg.Auth.Secret), userID, ttl, time.Now())
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Printf("%s: %s\n", cfg.Auth.Header, tok)
	}
	return nil
}

func readArg(arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(os.Stdin)
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg[1:], err)
		}
		return data, nil
	}
	return []byte(arg), nil
}
