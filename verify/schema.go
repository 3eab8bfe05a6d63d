package verify

import (
	"encoding/xml"
	"fmt"

	"github.com/fed4fire/speaksfor/ferr"
)

// The structs below mirror resources/credential.xsd's element shape. No
// pure-Go XSD engine exists anywhere in this project's dependency graph (the
// only XSD-adjacent library available validates a single scalar type, not a
// whole document against a schema), so Stage 1 is a hand-written structural
// validator against these typed structs instead — the standard library's
// encoding/xml decoder already rejects malformed XML outright, and
// validateSchema checks a subset of the XSD: the root element name,
// credential/type == "abac", and non-empty expires, rt0/version and the
// head and tail keyids. Element order, the credential's xml:id and id
// attributes, head/role and the presence of <signatures> are not checked.

type xsdSignedCredential struct {
	XMLName    xml.Name        `xml:"signed-credential"`
	Credential xsdCredential   `xml:"credential"`
	Signatures xsdSignatures   `xml:"signatures"`
}

type xsdCredential struct {
	Type    string  `xml:"type"`
	UUID    string  `xml:"uuid"`
	Expires string  `xml:"expires"`
	ABAC    xsdABAC `xml:"abac"`
}

type xsdABAC struct {
	RT0 xsdRT0 `xml:"rt0"`
}

type xsdRT0 struct {
	Version string      `xml:"version"`
	Head    xsdRT0Party `xml:"head"`
	Tail    xsdRT0Party `xml:"tail"`
}

type xsdRT0Party struct {
	KeyID string `xml:"ABACprincipal>keyid"`
}

type xsdSignatures struct {
	InnerXML []byte `xml:",innerxml"`
}

// validateSchema decodes data against the structural shape of
// resources/credential.xsd and rejects any document missing a required
// element. It does not itself perform signature, trust, or expiration
// checks — those are later stages.
func validateSchema(data []byte) error {
	var doc xsdSignedCredential
	if err := xml.Unmarshal(data, &doc); err != nil {
		return ferr.Wrap(ferr.SchemaInvalid, "", fmt.Errorf("verify: schema: %w", err))
	}
	if doc.Credential.Type != "abac" {
		return ferr.New(ferr.SchemaInvalid, "verify: schema: credential/type must be %q, got %q", "abac", doc.Credential.Type)
	}
	if doc.Credential.Expires == "" {
		return ferr.New(ferr.SchemaInvalid, "verify: schema: credential/expires is required")
	}
	if doc.Credential.ABAC.RT0.Version == "" {
		return ferr.New(ferr.SchemaInvalid, "verify: schema: credential/abac/rt0/version is required")
	}
	if doc.Credential.ABAC.RT0.Head.KeyID == "" {
		return ferr.New(ferr.SchemaInvalid, "verify: schema: credential/abac/rt0/head/ABACprincipal/keyid is required")
	}
	if doc.Credential.ABAC.RT0.Tail.KeyID == "" {
		return ferr.New(ferr.SchemaInvalid, "verify: schema: credential/abac/rt0/tail/ABACprincipal/keyid is required")
	}
	return nil
}
