package pipeline

import (
	"regexp"
	"strings"

	"github.com/jogakdal/tbeg/internal/ooxmlparts"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/xuri/excelize/v2"
)

// applyCoreMetadata writes the document-wide metadata fields excelize's
// own DocProperties covers (title, author, subject, keywords,
// description, category, created) directly onto f. An empty
// DocumentMetadata is a no-op.
func applyCoreMetadata(f *excelize.File, meta provider.DocumentMetadata) error {
	if meta.IsEmpty() {
		return nil
	}
	props := &excelize.DocProperties{
		Title:       meta.Title,
		Creator:     meta.Author,
		Subject:     meta.Subject,
		Description: meta.Description,
		Category:    meta.Category,
		Keywords:    strings.Join(meta.Keywords, "; "),
		Created:     meta.Created,
	}
	if err := f.SetDocProps(props); err != nil {
		return tbegerr.New(tbegerr.PackageIO, "failed to set document properties").WithCause(err)
	}
	return nil
}

// companyRe and managerRe match the docProps/app.xml extended-properties
// elements excelize's public DocProperties struct does not expose
// (Company, Manager). Rather than pull in a second OOXML metadata
// library for two elements, this package edits them in place through
// internal/ooxmlparts, the same raw-part approach internal/pivot and
// internal/chartpreserve use for their own XML gaps.
var (
	companyRe = regexp.MustCompile(`<Company>[^<]*</Company>`)
	managerRe = regexp.MustCompile(`<Manager>[^<]*</Manager>`)
)

const appPropsPart = "docProps/app.xml"

// applyExtendedMetadata writes Company/Manager into docProps/app.xml when
// either is set, inserting the element if the template never had one and
// replacing it otherwise. A no-op when both fields are empty.
func applyExtendedMetadata(pkg *ooxmlparts.Package, meta provider.DocumentMetadata) error {
	if meta.Company == "" && meta.Manager == "" {
		return nil
	}
	xmlContent, ok := pkg.Part(appPropsPart)
	if !ok {
		return nil // template carries no extended-properties part; nothing to patch
	}
	out := xmlContent
	if meta.Company != "" {
		out = setOrInsertElement(out, companyRe, "Company", meta.Company)
	}
	if meta.Manager != "" {
		out = setOrInsertElement(out, managerRe, "Manager", meta.Manager)
	}
	pkg.SetPart(appPropsPart, out)
	return nil
}

func setOrInsertElement(xmlContent []byte, re *regexp.Regexp, tag, value string) []byte {
	elem := "<" + tag + ">" + escapeXMLText(value) + "</" + tag + ">"
	if re.Match(xmlContent) {
		return re.ReplaceAll(xmlContent, []byte(elem))
	}
	closeTag := []byte("</Properties>")
	idx := lastIndex(xmlContent, closeTag)
	if idx < 0 {
		return xmlContent
	}
	out := make([]byte, 0, len(xmlContent)+len(elem))
	out = append(out, xmlContent[:idx]...)
	out = append(out, elem...)
	out = append(out, xmlContent[idx:]...)
	return out
}

func lastIndex(haystack, needle []byte) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}

func escapeXMLText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
