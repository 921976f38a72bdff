package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var apikeyKey string

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Generate an API key and its bcrypt hash",
	Long: `Generate an API key for the control API. Put the printed hash in
server.api_key_hash and hand the key itself to the caller; the key is
not stored anywhere.`,
	RunE: runApikey,
}

func init() {
	apikeyCmd.Flags().StringVar(&apikeyKey, "key", "", "hash this key instead of generating one")
}

func runApikey(cmd *cobra.Command, args []string) error {
	key := apikeyKey
	if key == "" {
		key = uuid.New().String()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}

	fmt.Printf("API key:  %s\n", key)
	fmt.Printf("Hash:     %s\n", string(hash))
	fmt.Println("\nAdd to config:")
	fmt.Println("server:")
	fmt.Printf("  api_key_hash: %q\n", string(hash))
	return nil
}
