package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/ultrazend/ultrazend/internal/dkim"
)

var (
	initDomain    string
	initHostname  string
	initOutput    string
	initDKIM      bool
	initDataDir   string
	initAPIKey    string
	initRelayHost string
	initForce     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize ultrazend configuration",
	Long: `Create an ultrazend configuration file.

This command:
  1. Generates an API key and stores only its bcrypt hash
  2. Optionally generates a DKIM key for the sender domain
  3. Shows the DNS records to add

Examples:
  ultrazend init --domain example.com --dkim
  ultrazend init --domain example.com --relay smtp.example.net -o ultrazend.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDomain, "domain", "", "Sender domain (required)")
	initCmd.Flags().StringVar(&initHostname, "hostname", "", "Server hostname FQDN (default: mail.<domain>)")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate a DKIM key")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/ultrazend", "Data directory for storage and keys")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initRelayHost, "relay", "", "SMTP relay host; delivery stays disabled when empty")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")
	initCmd.MarkFlagRequired("domain")

	rootCmd.AddCommand(initCmd)
}

type initOptions struct {
	Domain      string
	Hostname    string
	DataDir     string
	APIKeyHash  string
	RelayHost   string
	DKIMKeyFile string
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	opts := initOptions{
		Domain:    initDomain,
		Hostname:  initHostname,
		DataDir:   initDataDir,
		RelayHost: initRelayHost,
	}
	if opts.Hostname == "" {
		opts.Hostname = "mail." + opts.Domain
	}

	apiKey := initAPIKey
	if apiKey == "" {
		apiKey = generateRandomString(32)
		fmt.Fprintf(out, "Generated API key: %s\n", apiKey)
		fmt.Fprintf(out, "  Only its hash is written to the config, store the key now.\n")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}
	opts.APIKeyHash = string(hash)

	var kp *dkim.KeyPair
	if initDKIM {
		kp, err = dkim.GenerateKey(opts.Domain, "mail")
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}

		opts.DKIMKeyFile = filepath.Join(opts.DataDir, "dkim", opts.Domain+".pem")
		if err := kp.SavePrivateKey(opts.DKIMKeyFile); err != nil {
			return fmt.Errorf("failed to save DKIM key: %w", err)
		}
		fmt.Fprintf(out, "DKIM key saved to: %s\n", opts.DKIMKeyFile)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(opts)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(out, "Configuration saved to: %s\n\n", initOutput)

	printInitDNSRecords(out, opts, kp)

	fmt.Fprintf(out, "Start the server with:\n  ultrazend serve -c %s\n", initOutput)
	return nil
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(opts initOptions) string {
	deliverySection := fmt.Sprintf(`delivery:
  enabled: false
  # host: "smtp.%s"
  # tls_mode: "starttls"
  # username: ""
  # password: ""`, opts.Domain)
	if opts.RelayHost != "" {
		deliverySection = fmt.Sprintf(`delivery:
  enabled: true
  host: %q
  tls_mode: "starttls"
  timeout: 30s`, opts.RelayHost)
	}

	dkimSection := fmt.Sprintf(`# dkim:
#   %s:
#     selector: "mail"
#     key_file: "%s/dkim/%s.pem"`, opts.Domain, opts.DataDir, opts.Domain)
	if opts.DKIMKeyFile != "" {
		dkimSection = fmt.Sprintf(`dkim:
  %s:
    selector: "mail"
    key_file: %q`, opts.Domain, opts.DKIMKeyFile)
	}

	return fmt.Sprintf(`# ultrazend configuration
# Generated by: ultrazend init

server:
  hostname: %q

api:
  listen_addr: ":8080"
  api_key_hash: %q
  max_body_bytes: 2097152  # 2 MB
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s

storage:
  path: "%s/templates.db"

preview:
  missing_style: "literal"
  sanitize_html: false

%s

%s

metrics:
  enabled: false
  listen_addr: ":9090"
  path: "/metrics"

logging:
  level: "info"
  format: "json"
`,
		opts.Hostname,
		opts.APIKeyHash,
		opts.DataDir,
		deliverySection,
		dkimSection,
	)
}

func printInitDNSRecords(out io.Writer, opts initOptions, kp *dkim.KeyPair) {
	fmt.Fprintln(out, "DNS Records to Add")
	fmt.Fprintln(out, "==================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "SPF Record (authorize your relay to send for the domain):")
	fmt.Fprintf(out, "  Name:  %s\n", opts.Domain)
	fmt.Fprintf(out, "  Type:  TXT\n")
	if opts.RelayHost != "" {
		fmt.Fprintf(out, "  Value: v=spf1 a:%s ~all\n", opts.RelayHost)
	} else {
		fmt.Fprintf(out, "  Value: v=spf1 mx ~all\n")
	}
	fmt.Fprintln(out)

	if kp != nil {
		fmt.Fprintln(out, "DKIM Record (message signing):")
		fmt.Fprintf(out, "  Name:  %s\n", kp.DNSName())
		fmt.Fprintf(out, "  Type:  TXT\n")
		fmt.Fprintf(out, "  Value: %s\n", kp.DNSRecord())
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "DMARC Record (email policy):")
	fmt.Fprintf(out, "  Name:  _dmarc.%s\n", opts.Domain)
	fmt.Fprintf(out, "  Type:  TXT\n")
	fmt.Fprintf(out, "  Value: v=DMARC1; p=quarantine; rua=mailto:dmarc@%s\n", opts.Domain)
	fmt.Fprintln(out)
}
