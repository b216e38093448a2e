package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// keygen generates an RSA signing key pair for local development. The private
// key feeds jwt.private_key_path; the kid defaults to the file name stem.
func main() {
	var (
		outDir = flag.String("out", "keys", "directory to write the key pair into")
		name   = flag.String("name", "auth-signing", "base name for the key files")
		bits   = flag.Int("bits", 2048, "RSA key size in bits")
	)
	flag.Parse()

	if *bits < 2048 {
		log.Fatalf("refusing to generate a key smaller than 2048 bits")
	}

	key, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	privatePath := filepath.Join(*outDir, *name+".pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := writeKeyFile(privatePath, privatePEM, 0o600); err != nil {
		log.Fatalf("write private key: %v", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		log.Fatalf("marshal public key: %v", err)
	}
	publicPath := filepath.Join(*outDir, *name+".pub.pem")
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := writeKeyFile(publicPath, publicPEM, 0o644); err != nil {
		log.Fatalf("write public key: %v", err)
	}

	fmt.Printf("wrote %s and %s\n", privatePath, publicPath)
	fmt.Printf("key id defaults to %q when jwt.key_id is unset\n", *name)
}

func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	return os.WriteFile(path, data, perm)
}
