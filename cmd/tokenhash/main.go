// Command tokenhash hashes a legacy customer token and prints the
// legacy_credentials entry to paste into config.yaml.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tjfontaine/revintel-gateway/internal/adapters/auth/legacy"
)

// credentialEntry mirrors config.LegacyCredentialConfig with YAML keys.
type credentialEntry struct {
	TokenHash   string `yaml:"token_hash"`
	CustomerID  string `yaml:"customer_id"`
	Email       string `yaml:"email,omitempty"`
	Admin       bool   `yaml:"admin,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type options struct {
	customerID  string
	email       string
	admin       bool
	description string
	generate    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "tokenhash [token]",
		Short: "Hash a legacy customer token for config.yaml",
		Long: `Prints the SHA-256 hash of a legacy token as a legacy_credentials entry.
Only the hash goes into configuration; hand the token itself to the customer.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(out, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.customerID, "customer", "", "customer ID the token is bound to (required)")
	cmd.Flags().StringVar(&opts.email, "email", "", "email reported for the identity")
	cmd.Flags().BoolVar(&opts.admin, "admin", false, "grant admin access")
	cmd.Flags().StringVar(&opts.description, "description", "", "free-form note")
	cmd.Flags().BoolVar(&opts.generate, "generate", false, "generate a random token instead of reading one")
	_ = cmd.MarkFlagRequired("customer")

	return cmd
}

func run(out io.Writer, opts options, args []string) error {
	var token string
	switch {
	case opts.generate && len(args) > 0:
		return fmt.Errorf("--generate and a token argument are mutually exclusive")
	case opts.generate:
		t, err := generateToken()
		if err != nil {
			return err
		}
		token = t
	case len(args) == 1 && args[0] != "":
		token = args[0]
	default:
		return fmt.Errorf("a token argument or --generate is required")
	}

	entry := credentialEntry{
		TokenHash:   legacy.HashToken(token),
		CustomerID:  opts.customerID,
		Email:       opts.email,
		Admin:       opts.admin,
		Description: opts.description,
	}

	doc := map[string]any{
		"auth": map[string]any{
			"legacy_credentials": []credentialEntry{entry},
		},
	}
	body, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	if opts.generate {
		fmt.Fprintf(out, "# token: %s\n", token)
	}
	_, err = out.Write(body)
	return err
}

func generateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return "rvt_" + hex.EncodeToString(buf), nil
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
