// Command speaks-for issues a signed ABAC speaks-for credential (spec.md
// §6): it loads a signer's private key and certificate chain, a tool
// certificate, and emits a base64-encoded credential on stdout and/or to an
// output file.
package main

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"

	"github.com/fed4fire/speaksfor/bundle"
	"github.com/fed4fire/speaksfor/config"
	"github.com/fed4fire/speaksfor/credential"
	"github.com/fed4fire/speaksfor/ferr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var c = &config.Conf{}

var rootCmd = &cobra.Command{
	Use:   "speaks-for",
	Short: "Issue a signed ABAC speaks-for credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.Unmarshal(c); err != nil {
			return fmt.Errorf("speaks-for: bind flags: %w", err)
		}
		return run()
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringP("c", "c", "", "signer private key file (required)")
	flags.StringP("f", "f", "pem", "signer key format: pem|p12")
	flags.StringP("p", "p", "", "signer key password")
	flags.StringP("t", "t", "", "tool certificate file (required)")
	flags.IntP("d", "d", credential.DefaultValidityDays, "credential validity in days")
	flags.StringP("o", "o", "", "output file for the base64 credential (default: stdout only)")
	flags.CountP("v", "v", "increase verbosity (-v, -vv)")

	if err := viper.BindPFlags(flags); err != nil {
		log.Fatalf("speaks-for: bind flags: %v", err)
	}
	if err := rootCmd.MarkFlagRequired("c"); err != nil {
		log.Fatalf("speaks-for: mark -c required: %v", err)
	}
	if err := rootCmd.MarkFlagRequired("t"); err != nil {
		log.Fatalf("speaks-for: mark -t required: %v", err)
	}
}

func run() error {
	keyData, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return exitUsage(fmt.Errorf("speaks-for: read %s: %w", c.KeyFile, err))
	}
	toolData, err := os.ReadFile(c.ToolCert)
	if err != nil {
		return exitUsage(fmt.Errorf("speaks-for: read %s: %w", c.ToolCert, err))
	}

	signer, err := bundle.Load(keyData, bundle.Format(c.Format), c.Password)
	if err != nil {
		return exitStage(err)
	}
	toolCert, err := bundle.LoadCertificate(toolData)
	if err != nil {
		return exitStage(err)
	}
	if c.Verbose > 0 {
		if id := toolCert.PublicID(); id != "" {
			log.Println("tool publicId:", id)
		} else {
			log.Println("tool certificate has no urn:publicid: SubjectAltName; publicId is informational only and was not required")
		}
	}

	b := &credential.Builder{
		Signer: signer,
		Tool:   toolCert.Certificate,
		Days:   c.Days,
	}
	doc, err := b.Build()
	if err != nil {
		return exitStage(err)
	}

	encoded := base64.StdEncoding.EncodeToString(doc)
	fmt.Println(encoded)

	if c.OutFile != "" {
		if err := os.WriteFile(c.OutFile, []byte(encoded), 0o644); err != nil {
			return exitUsage(fmt.Errorf("speaks-for: write %s: %w", c.OutFile, err))
		}
	}
	return nil
}

// exitStage marks err to exit 1 (any verification/build-stage failure), per
// spec.md §6's exit code table.
func exitStage(err error) error {
	return &exitError{code: 1, err: err}
}

// exitUsage marks err to exit 2 (usage error: bad paths, missing files).
func exitUsage(err error) error {
	return &exitError{code: 2, err: err}
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := 1
		var ee *exitError
		if as, ok := err.(*exitError); ok {
			ee = as
		}
		if ee != nil {
			code = ee.code
		} else if _, ok := err.(*ferr.Error); ok {
			code = 1
		}
		log.Println(err)
		os.Exit(code)
	}
}
