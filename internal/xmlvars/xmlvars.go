// Package xmlvars implements the XML variable rewriter: substituting
// `${name}` tokens inside raw OOXML XML parts
// — chart titles/series names, drawing captions, header/footer strings —
// that excelize's cell-oriented API never touches, since these live
// inside chart1.xml/drawing1.xml/sheet XML rather than a cell value.
package xmlvars

import (
	"bytes"
	"encoding/xml"
	"regexp"

	"github.com/jogakdal/tbeg/pkg/tbegerr"
)

// tokenRe matches a bare `${name}` substitution token. Chart/drawing/
// header-footer text has no loop context, so only simple variable names
// are meaningful here — not the dotted `${item.path}` form internal/markers
// recognizes for cell content.
var tokenRe = regexp.MustCompile(`\$\{\s*([A-Za-z_][\w]*)\s*\}`)

// Resolver looks up a variable's literal replacement text.
type Resolver func(name string) (string, bool)

// Rewrite replaces every `${name}` token in xmlContent with its resolved,
// XML-escaped value. An unresolved name raises MissingTemplateData with
// the offending name as the Literal, naming the part under xmlvars.Rewrite
// rather than failing silently with a dangling token in the output.
func Rewrite(partName string, xmlContent []byte, resolve Resolver) ([]byte, error) {
	var outerErr error
	out := tokenRe.ReplaceAllFunc(xmlContent, func(tok []byte) []byte {
		if outerErr != nil {
			return tok
		}
		m := tokenRe.FindSubmatch(tok)
		name := string(m[1])
		val, ok := resolve(name)
		if !ok {
			outerErr = tbegerr.New(tbegerr.MissingTemplateData, "no value for referenced name").
				WithLiteral(name)
			return tok
		}
		return []byte(escapeXML(val))
	})
	if outerErr != nil {
		if te, ok := outerErr.(*tbegerr.Error); ok {
			return nil, te.At(partName, "")
		}
		return nil, outerErr
	}
	return out, nil
}

// ContainsVariables reports whether xmlContent has at least one `${name}`
// token, letting callers skip rewriting (and re-serializing) parts that
// don't need it.
func ContainsVariables(xmlContent []byte) bool {
	return tokenRe.Match(xmlContent)
}

// ReferencedNames returns every distinct variable name referenced in
// xmlContent, for required-name collection alongside
// blueprint.WorkbookSpec.RequiredNames.
func ReferencedNames(xmlContent []byte) []string {
	matches := tokenRe.FindAllSubmatch(xmlContent, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
