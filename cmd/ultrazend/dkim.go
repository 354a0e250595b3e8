package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ultrazend/ultrazend/internal/dkim"
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
	Long:  `Generate a new RSA 2048-bit DKIM key pair and output DNS record.`,
	RunE:  runDKIMGenerate,
}

var dkimDNSCmd = &cobra.Command{
	Use:   "dns",
	Short: "Show DKIM DNS record from existing key",
	Long:  `Show the DNS TXT record for an existing DKIM private key.`,
	RunE:  runDKIMDNS,
}

var dkimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured DKIM domains and their DNS records",
	RunE:  runDKIMList,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "mail", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimDNSCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimDNSCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimDNSCmd.Flags().StringVar(&dkimSelector, "selector", "mail", "DKIM selector")
	dkimDNSCmd.MarkFlagRequired("key")
	dkimDNSCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimDNSCmd, dkimListCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	kp, err := dkim.GenerateKey(dkimDomain, dkimSelector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, dkimDomain+".pem")
	if err := kp.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "DKIM key generated successfully\n\n")
	fmt.Fprintf(out, "Private key saved to: %s\n\n", keyPath)
	printDNSRecord(out, kp.DNSName(), kp.DNSRecord())

	return nil
}

func runDKIMDNS(cmd *cobra.Command, args []string) error {
	signer, err := dkim.NewSignerFromFile(dkimKeyFile, dkimDomain, dkimSelector)
	if err != nil {
		return err
	}

	record, err := signer.DNSRecord()
	if err != nil {
		return fmt.Errorf("failed to build DNS record: %w", err)
	}

	printDNSRecord(cmd.OutOrStdout(), dkim.DNSName(dkimDomain, dkimSelector), record)
	return nil
}

func runDKIMList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	provider, err := dkim.NewProvider(cfg.DKIM, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	domains := provider.Domains()
	if len(domains) == 0 {
		fmt.Fprintln(out, "No DKIM domains configured")
		return nil
	}

	for i, domain := range domains {
		signer := provider.SignerFor("postmaster@" + domain)
		record, err := signer.DNSRecord()
		if err != nil {
			return fmt.Errorf("failed to build DNS record for %s: %w", domain, err)
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		printDNSRecord(out, dkim.DNSName(signer.Domain(), signer.Selector()), record)
	}
	return nil
}

func printDNSRecord(out io.Writer, name, value string) {
	fmt.Fprintf(out, "DNS Record:\n")
	fmt.Fprintf(out, "  Name: %s\n", name)
	fmt.Fprintf(out, "  Type: TXT\n")
	fmt.Fprintf(out, "  Value: %s\n", value)
}
