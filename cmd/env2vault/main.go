// Command env2vault imports a dotenv file into the credential vault, so
// secrets can be removed from the filesystem once the desk is set up.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/deskbot/godesk/pkg/vault"
)

func main() {
	var (
		inPath = flag.String("in", ".env", "input .env file path")
		dbPath = flag.String("vault", getenv("DESK_VAULT_PATH", "data/vault.badger"), "vault db path")
		rawKey = flag.String("key", getenv("DESK_VAULT_KEY", ""), "vault encryption key (32 bytes base64/hex)")
		prefix = flag.String("prefix", vault.EnvPrefix, "key prefix inside the vault")
	)
	flag.Parse()

	keyBytes, err := vault.ParseKey(*rawKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("encryption key is required: set DESK_VAULT_KEY or pass -key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}

	store, err := vault.Open(vault.Options{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	written := 0
	for k, v := range kv {
		if err := store.Put((*prefix)+k, v); err != nil {
			fatal(err)
		}
		written++
	}

	fmt.Fprintf(os.Stderr, "imported %d entries into %s (prefix %s)\n", written, *dbPath, *prefix)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
