package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ultrazend/ultrazend/internal/api"
	"github.com/ultrazend/ultrazend/internal/app"
	"github.com/ultrazend/ultrazend/internal/config"
	"github.com/ultrazend/ultrazend/internal/template"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ultrazend",
	Short: "ultrazend - email template service",
	Long: `ultrazend stores email templates with {{variable}} placeholders,
renders previews and sends rendered templates through an SMTP relay.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ultrazend version %s\n", version)
		if commit != "unknown" {
			fmt.Fprintf(out, "  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Fprintf(out, "  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	api.Version = version

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration is valid\n")
	fmt.Fprintf(out, "  Hostname: %s\n", cfg.Server.Hostname)
	fmt.Fprintf(out, "  API:      %s\n", cfg.API.ListenAddr)
	fmt.Fprintf(out, "  Storage:  %s\n", cfg.Storage.Path)
	fmt.Fprintf(out, "  Preview:  %s (sanitize: %v)\n", cfg.Preview.MissingStyle, cfg.Preview.SanitizeHTML)
	if cfg.Delivery.Enabled {
		fmt.Fprintf(out, "  Relay:    %s (%s)\n", cfg.Delivery.RelayAddr(), cfg.Delivery.TLSMode)
	} else {
		fmt.Fprintf(out, "  Relay:    disabled\n")
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  Metrics:  %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	for domain, dc := range cfg.DKIM {
		fmt.Fprintf(out, "  DKIM:     %s (selector %s)\n", domain, dc.Selector)
	}

	return nil
}

// openTemplates opens the configured template catalogue
func openTemplates() (*template.Storage, *template.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := template.OpenDB(cfg.Storage.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	storage, err := template.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to create template storage: %w", err)
	}

	engine := template.NewEngine(template.PreviewOptions{
		MissingStyle: template.MissingStyle(cfg.Preview.MissingStyle),
		SanitizeHTML: cfg.Preview.SanitizeHTML,
	})

	return storage, engine, func() { db.Close() }, nil
}
