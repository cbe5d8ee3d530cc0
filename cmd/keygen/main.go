// Generates the RSA signing key pair used for token endpoint authentication,
// along with a JWKS document suitable for registration with the FHIR
// authorization server. The JWKS must be hosted at a publicly reachable URL;
// allow up to 30 minutes for the authorization server to pick up changes.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	OutputDir string `env:"KEYGEN_OUTPUT_DIR, default=."`
	KeyID     string `env:"KEYGEN_KEY_ID, default=chartbridge-key-1"`
	Force     bool   `env:"KEYGEN_FORCE, default=false"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	privatePath := filepath.Join(cfg.OutputDir, "private_key.pem")
	publicPath := filepath.Join(cfg.OutputDir, "public_key.pem")
	jwksPath := filepath.Join(cfg.OutputDir, "jwks.json")

	if !cfg.Force {
		for _, p := range []string{privatePath, publicPath, jwksPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists: set KEYGEN_FORCE=true to overwrite", p)
			}
		}
	}

	fmt.Println("Generating RSA private key...")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	fmt.Printf("Created %s.\n", privatePath)

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	fmt.Printf("Created %s.\n", publicPath)

	jwks, err := publicJWKS(&key.PublicKey, cfg.KeyID)
	if err != nil {
		return fmt.Errorf("building JWKS: %w", err)
	}
	if err := os.WriteFile(jwksPath, jwks, 0o644); err != nil {
		return fmt.Errorf("writing JWKS: %w", err)
	}
	fmt.Printf("Created %s.\n", jwksPath)

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("1. Host jwks.json at a public HTTPS URL.")
	fmt.Println("2. Register the JWKS URL with your FHIR authorization server.")
	fmt.Printf("3. Set FHIR_PRIVATE_KEY_PATH=%s and FHIR_KEY_ID=%s.\n", privatePath, cfg.KeyID)

	return nil
}

// publicJWKS renders the public half of the key pair as a JWKS document. The
// key ID and the RS384 signing algorithm must match what the bridge sends in
// its client assertion headers.
func publicJWKS(pub *rsa.PublicKey, keyID string) ([]byte, error) {
	key, err := jwk.Import(pub)
	if err != nil {
		return nil, err
	}

	if err := key.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS384()); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}

	return json.MarshalIndent(set, "", "  ")
}
