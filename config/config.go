// Package config defines the Conf struct used by each cmd/ binary to bind
// cobra flags and viper configuration values into a single typed structure.
package config

// Conf holds the configuration values populated by viper from cobra flags,
// environment variables, or a config file. The three speaks-for binaries
// share this one struct — their flag sets barely overlap, and a shared Conf
// keeps the cobra/viper wiring uniform across cmd/.
//
// mapstructure tags are required wherever the lowercased Go field name does
// not match the cobra flag name that viper binds. Without them,
// viper.Unmarshal silently leaves those fields at their zero value.
type Conf struct {
	// speaks-for flags.

	// KeyFile is the signer's private key (-c), in PEM or PKCS#12 form.
	KeyFile string `mapstructure:"c"`
	// Format selects how KeyFile (speaks-for) or Credential
	// (validate-speaks-for) is interpreted: "pem"/"p12" for the former,
	// "base64"/"xml" for the latter (-f, overloaded per the two tools'
	// distinct input kinds).
	Format string `mapstructure:"f"`
	// Password unlocks KeyFile when it is encrypted (-p).
	Password string `mapstructure:"p"`
	// ToolCert is the tool's certificate (-t), used both to compute the
	// credential's tail keyhash when signing and as the expected tool
	// identity when verifying.
	ToolCert string `mapstructure:"t"`
	// Days is the credential validity window in whole days (-d), default
	// credential.DefaultValidityDays.
	Days int `mapstructure:"d"`
	// OutFile writes the base64-encoded credential (-o); empty means stdout
	// only.
	OutFile string `mapstructure:"o"`

	// validate-speaks-for flags.

	// Credential is the credential to verify (-s): a file path, or "-" for
	// stdin.
	Credential string `mapstructure:"s"`
	// CADir is the trust anchor folder (--ca); empty means the bundled
	// resources/ca/ default.
	CADir string `mapstructure:"ca"`
	// ToolKeyID is a raw expected tool keyid (-k), mutually exclusive with
	// ToolCert.
	ToolKeyID string `mapstructure:"k"`

	// Shared.

	// Verbose is the -v/-vv count; the CLI layer alone consults this, never
	// the library packages.
	Verbose int `mapstructure:"v"`
}
