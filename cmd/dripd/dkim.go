package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tealmail/drip/internal/dkim"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
	dkimOutDir   string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a new RSA 2048-bit DKIM key pair and output the DNS record.`,
	RunE:  runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show DKIM DNS record from existing key",
	Long:  `Show the DNS TXT record for an existing DKIM private key.`,
	RunE:  runDKIMShow,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "drip", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "drip", "DKIM selector")
	dkimShowCmd.MarkFlagRequired("key")
	dkimShowCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	kp, err := dkim.GenerateKey(dkimDomain, dkimSelector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.key", dkimDomain))
	if err := kp.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	fmt.Printf("DKIM key generated successfully\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	printDNSRecord(kp)

	return nil
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	privateKey, err := dkim.LoadPrivateKey(dkimKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}

	kp := &dkim.KeyPair{PrivateKey: privateKey, Domain: dkimDomain, Selector: dkimSelector}
	printDNSRecord(kp)

	return nil
}

func printDNSRecord(kp *dkim.KeyPair) {
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name: %s\n", kp.DNSName())
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n", kp.DNSRecord())
}
