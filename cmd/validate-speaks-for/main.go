// Command validate-speaks-for runs the credential verification pipeline
// (spec.md §4.E) over a speaks-for credential and exits 0 on success, 1 on
// any verification-stage failure, 2 on usage error.
package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fed4fire/speaksfor/bundle"
	"github.com/fed4fire/speaksfor/config"
	"github.com/fed4fire/speaksfor/ferr"
	"github.com/fed4fire/speaksfor/trust"
	"github.com/fed4fire/speaksfor/verify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultCADir = "resources/ca"

var c = &config.Conf{}

var rootCmd = &cobra.Command{
	Use:   "validate-speaks-for",
	Short: "Verify a signed ABAC speaks-for credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.Unmarshal(c); err != nil {
			return usageErr(fmt.Errorf("validate-speaks-for: bind flags: %w", err))
		}
		return run()
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringP("s", "s", "", "credential to verify, or \"-\" for stdin (required)")
	flags.StringP("f", "f", "base64", "credential encoding: base64|xml")
	flags.String("ca", defaultCADir, "trust anchor folder")
	flags.StringP("t", "t", "", "expected tool certificate file")
	flags.StringP("k", "k", "", "expected tool keyid (hex)")
	flags.CountP("v", "v", "increase verbosity (-v, -vv)")

	if err := viper.BindPFlags(flags); err != nil {
		log.Fatalf("validate-speaks-for: bind flags: %v", err)
	}
	if err := rootCmd.MarkFlagRequired("s"); err != nil {
		log.Fatalf("validate-speaks-for: mark -s required: %v", err)
	}
}

func run() error {
	if c.ToolCert != "" && c.ToolKeyID != "" {
		return usageErr(fmt.Errorf("validate-speaks-for: -t and -k are mutually exclusive"))
	}

	raw, err := readCredential(c.Credential)
	if err != nil {
		return usageErr(err)
	}

	var data []byte
	switch c.Format {
	case "base64":
		data, err = base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return usageErr(fmt.Errorf("validate-speaks-for: decode base64 credential: %w", err))
		}
	case "xml":
		data = raw
	default:
		return usageErr(fmt.Errorf("validate-speaks-for: unknown -f %q (want base64 or xml)", c.Format))
	}

	caDir := c.CADir
	if caDir == "" {
		caDir = defaultCADir
	}
	store, err := trust.Load(caDir)
	if err != nil {
		return usageErr(fmt.Errorf("validate-speaks-for: load CA folder %s: %w", caDir, err))
	}
	if c.Verbose > 0 {
		anchors := store.Anchors()
		log.Printf("loaded %d trust anchor(s) from %s", len(anchors), caDir)
		for _, a := range anchors {
			log.Println("  anchor:", a.Subject)
		}
	}

	opts := verify.Options{Trust: store, ExpectedToolKeyID: c.ToolKeyID}
	if c.ToolCert != "" {
		toolData, err := os.ReadFile(c.ToolCert)
		if err != nil {
			return usageErr(fmt.Errorf("validate-speaks-for: read %s: %w", c.ToolCert, err))
		}
		toolCert, err := bundle.LoadCertificate(toolData)
		if err != nil {
			return stageErr(err)
		}
		opts.ExpectedToolCert = toolCert.Certificate
	}

	result, err := verify.Verify(data, opts)
	if err != nil {
		if ferr.Is(err, ferr.UsageConflict) {
			return usageErr(err)
		}
		return stageErr(err)
	}

	for _, w := range result.Warnings {
		log.Println("warning:", w)
	}
	return nil
}

func readCredential(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("validate-speaks-for: read stdin: %w", err)
		}
		return data, nil
	}
	return os.ReadFile(path)
}

func stageErr(err error) error { return &exitError{code: 1, err: err} }
func usageErr(err error) error { return &exitError{code: 2, err: err} }

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := 1
		if ee, ok := err.(*exitError); ok {
			code = ee.code
		}
		log.Println(err)
		os.Exit(code)
	}
}
