package verify

import (
	"encoding/base64"
	"strings"
)

// decodeBase64Lines decodes s after stripping all whitespace, tolerating the
// 64-column-wrapped base64 this ecosystem emits for SignatureValue text.
func decodeBase64Lines(s string) ([]byte, error) {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return base64.StdEncoding.DecodeString(b.String())
}
