package credential

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// xmlEsc returns s with XML-special characters replaced by their standard
// entity references, making the value safe for XML text content and
// attribute values. encoding/xml.EscapeText is the canonical implementation:
// it handles &, <, >, ", and carriage return.
func xmlEsc(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s)) //nolint:errcheck — bytes.Buffer.Write never returns an error
	return buf.String()
}

// renderCredential produces the unsigned <signed-credential> document body
// (sketch in spec.md §6), literally substituting expires/uuid/userKeyhash/
// toolKeyhash. The <signatures> element is left empty; Builder.Build inserts
// the Signature element into it afterward.
func renderCredential(uuid, expires, userKeyhash, toolKeyhash string) string {
	return fmt.Sprintf(
		"<signed-credential>\n"+
			"  <credential xml:id=\"ref0\" id=\"ref0\">\n"+
			"    <type>abac</type>\n"+
			"    <serial/>\n"+
			"    <owner_gid/>\n"+
			"    <target_gid/>\n"+
			"    <uuid>%s</uuid>\n"+
			"    <expires>%s</expires>\n"+
			"    <abac>\n"+
			"      <rt0>\n"+
			"        <version>1.1</version>\n"+
			"        <head><ABACprincipal><keyid>%s</keyid></ABACprincipal>\n"+
			"              <role>speaks_for_%s</role></head>\n"+
			"        <tail><ABACprincipal><keyid>%s</keyid></ABACprincipal></tail>\n"+
			"      </rt0>\n"+
			"    </abac>\n"+
			"  </credential>\n"+
			"  <signatures></signatures>\n"+
			"</signed-credential>",
		xmlEsc(uuid),
		xmlEsc(expires),
		xmlEsc(userKeyhash),
		xmlEsc(userKeyhash),
		xmlEsc(toolKeyhash),
	)
}
