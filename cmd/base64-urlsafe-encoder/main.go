// Command base64-urlsafe-encoder wraps RFC 4648 §5 encoding for credential
// bytes that need to travel in a URL or header context; it is boundary glue
// (spec.md §6), not part of the core toolkit.
package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var decode bool

var rootCmd = &cobra.Command{
	Use:   "base64-urlsafe-encoder",
	Short: "Encode or decode RFC 4648 §5 URL-safe base64 from stdin to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("base64-urlsafe-encoder: read stdin: %w", err)
		}
		if decode {
			out, err := base64.URLEncoding.DecodeString(string(input))
			if err != nil {
				return fmt.Errorf("base64-urlsafe-encoder: decode: %w", err)
			}
			_, err = os.Stdout.Write(out)
			return err
		}
		_, err = fmt.Println(base64.URLEncoding.EncodeToString(input))
		return err
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolVarP(&decode, "decode", "d", false, "decode instead of encode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(2)
	}
}
