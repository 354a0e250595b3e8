package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var apikeyCost int

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key helpers",
}

var apikeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random API key and its bcrypt hash",
	RunE:  runAPIKeyGenerate,
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Print the bcrypt hash of an API key for api.api_key_hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyHash,
}

func init() {
	apikeyCmd.PersistentFlags().IntVar(&apikeyCost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	apikeyCmd.AddCommand(apikeyGenerateCmd, apikeyHashCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyGenerate(cmd *cobra.Command, args []string) error {
	key := generateRandomString(48)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), apikeyCost)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key:  %s\n", key)
	fmt.Fprintf(out, "Hash:     %s\n", hash)
	return nil
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), apikeyCost)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}
