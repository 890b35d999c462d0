package markers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jogakdal/tbeg/pkg/tbegerr"
)

// textMarkerRe matches a full `${NAME(args)}` marker call occupying the
// entire cell text; a marker call is not embedded in surrounding text —
// the cell is either a marker or static content.
var textMarkerRe = regexp.MustCompile(`^\$\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\(([\s\S]*)\)\s*\}$`)

// textTokenRe matches a bare `${name}` or `${item.path}` substitution token,
// used both for whole-cell variable cells and for scanning formula text for
// embedded variable tokens.
var textTokenRe = regexp.MustCompile(`\$\{\s*([A-Za-z_][\w]*(?:\.[A-Za-z_][\w]*)*)\s*\}`)

// formulaMarkerRe matches a whole formula cell that is itself a marker call
// in `TBEG_NAME(args)` / `=TBEG_NAME(args)` form.
var formulaMarkerRe = regexp.MustCompile(`(?i)^=?\s*(TBEG_[A-Z_]+)\s*\(([\s\S]*)\)\s*$`)

// ParseTextCell classifies a cell's literal (non-formula) text into a
// CellContent. It never errors on ordinary content — only a malformed
// marker call (bad args, unknown name, failed validation) returns an error.
func ParseTextCell(raw string) (CellContent, error) {
	trimmed := strings.TrimSpace(raw)

	if trimmed == "" {
		return Empty{}, nil
	}

	if m := textMarkerRe.FindStringSubmatch(trimmed); m != nil {
		return bindMarkerCall(strings.ToUpper(m[1]), m[2], raw)
	}

	if m := textTokenRe.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		return bindVariableToken(m[1], raw), nil
	}

	if names := TokenNames(trimmed); len(names) > 0 {
		return InterpolatedString{Text: raw, ReferencedNames: names}, nil
	}

	if n, err := strconv.ParseFloat(trimmed, 64); err == nil && numericLiteralRe.MatchString(trimmed) {
		return StaticNumber{Value: n}, nil
	}

	return StaticString{Text: raw}, nil
}

// numericLiteralRe excludes things ParseFloat would otherwise accept (hex,
// "Inf", "NaN") that are not meaningful as a spreadsheet numeric literal.
var numericLiteralRe = regexp.MustCompile(`^[+-]?\d+(\.\d+)?([eE][+-]?\d+)?$`)

// ParseFormulaCell classifies a cell's formula text. A formula that is
// itself a whole-cell TBEG_NAME(args) call becomes the corresponding
// marker; otherwise embedded ${var}/${item.path} tokens make it a
// FormulaWithVariables, and a formula with neither becomes a plain Formula
// (row/column references may still need adjustment, handled elsewhere).
func ParseFormulaCell(raw string) (CellContent, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Empty{}, nil
	}

	if m := formulaMarkerRe.FindStringSubmatch(trimmed); m != nil {
		return bindMarkerCall(strings.ToUpper(m[1]), m[2], raw)
	}

	names := TokenNames(trimmed)
	if len(names) == 0 {
		return Formula{Text: raw}, nil
	}
	return FormulaWithVariables{Text: raw, ReferencedNames: names}, nil
}

// TokenNames returns the distinct `${...}` token names embedded in text,
// in first-appearance order.
func TokenNames(text string) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, m := range textTokenRe.FindAllStringSubmatch(text, -1) {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// ReplaceTokens substitutes every `${name}` token in text through resolve.
// Tokens resolve cannot supply are left in place and reported back so the
// caller can apply its missing-data policy.
func ReplaceTokens(text string, resolve func(name string) (string, bool)) (replaced string, missing []string) {
	replaced = textTokenRe.ReplaceAllStringFunc(text, func(tok string) string {
		name := textTokenRe.FindStringSubmatch(tok)[1]
		if v, ok := resolve(name); ok {
			return v
		}
		missing = append(missing, name)
		return tok
	})
	return replaced, missing
}

func bindVariableToken(token, original string) CellContent {
	if i := strings.IndexByte(token, '.'); i >= 0 {
		parts := strings.Split(token, ".")
		return ItemField{ItemVar: parts[0], FieldPath: parts[1:], OriginalText: original}
	}
	return Variable{Name: token, OriginalText: original}
}

// bindMarkerCall dispatches a `NAME(args)` call — shared by the textual and
// formula marker surface forms, which share one grammar with a different
// enclosing syntax.
func bindMarkerCall(name, rawArgs, original string) (CellContent, error) {
	name = strings.TrimPrefix(name, "TBEG_")
	a, err := parseArgs(rawArgs)
	if err != nil {
		return nil, err
	}

	switch name {
	case "REPEAT":
		return bindRepeat(a, original)
	case "IMAGE":
		return bindImage(a, original)
	case "SIZE":
		return bindSize(a, original)
	default:
		return nil, tbegerr.New(tbegerr.MarkerValidation, "unknown marker name: "+name).WithLiteral(original)
	}
}

func bindRepeat(a *args, original string) (CellContent, error) {
	collection, ok := a.get("collection", 0)
	if !ok {
		return nil, tbegerr.New(tbegerr.MissingRequiredParam, "repeat marker requires collection").WithLiteral(original)
	}
	rng, ok := a.get("range", 1)
	if !ok {
		return nil, tbegerr.New(tbegerr.MissingRequiredParam, "repeat marker requires range").WithLiteral(original)
	}
	variable, ok := a.getAlias(2, "var", "variable")
	if !ok {
		return nil, tbegerr.New(tbegerr.MissingRequiredParam, "repeat marker requires variable").WithLiteral(original)
	}
	dirRaw, _ := a.get("direction", 3)
	dir := DirectionDown
	switch strings.ToUpper(strings.TrimSpace(dirRaw)) {
	case "", "DOWN":
		dir = DirectionDown
	case "RIGHT":
		dir = DirectionRight
	default:
		return nil, tbegerr.New(tbegerr.InvalidParameterValue, "direction must be DOWN or RIGHT").WithLiteral(original)
	}
	emptyRange, _ := a.getAlias(4, "empty", "emptyRange")

	rm := RepeatMarker{
		Collection: collection,
		Range:      rng,
		Variable:   variable,
		Direction:  dir,
		EmptyRange: emptyRange,
	}
	if err := validateRangeFormat(rm.Range, original); err != nil {
		return nil, err
	}
	if !identifierLike(rm.Collection) || !identifierLike(rm.Variable) {
		return nil, tbegerr.New(tbegerr.InvalidParameterValue, "collection and variable must be identifiers").WithLiteral(original)
	}
	return rm, nil
}

func bindImage(a *args, original string) (CellContent, error) {
	name, ok := a.get("name", 0)
	if !ok {
		return nil, tbegerr.New(tbegerr.MissingRequiredParam, "image marker requires name").WithLiteral(original)
	}
	position, _ := a.get("position", 1)
	sizeRaw, _ := a.get("size", 2)

	spec, err := parseSizeSpec(sizeRaw, original)
	if err != nil {
		return nil, err
	}
	return ImageMarker{ImageName: name, Position: position, Size: spec}, nil
}

func bindSize(a *args, original string) (CellContent, error) {
	collection, ok := a.get("collection", 0)
	if !ok {
		return nil, tbegerr.New(tbegerr.MissingRequiredParam, "size marker requires collection").WithLiteral(original)
	}
	if !identifierLike(collection) {
		return nil, tbegerr.New(tbegerr.InvalidParameterValue, "collection must be an identifier").WithLiteral(original)
	}
	return SizeMarker{CollectionName: collection}, nil
}

var sizeSpecRe = regexp.MustCompile(`^(-?\d+):(-?\d+)$`)

func parseSizeSpec(raw, original string) (SizeSpec, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "fit", "0:0":
		return SizeSpec{Kind: SizeFitToCell}, nil
	case "original", "-1:-1":
		return SizeSpec{Kind: SizeOriginal}, nil
	}
	m := sizeSpecRe.FindStringSubmatch(s)
	if m == nil {
		return SizeSpec{}, tbegerr.New(tbegerr.InvalidParameterValue, "size must be fit, original, or W:H").WithLiteral(original)
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	if w < 0 || h < 0 {
		// Only the exact -1:-1 alias means "original"; any other negative
		// dimension is out of domain.
		return SizeSpec{}, tbegerr.New(tbegerr.InvalidParameterValue, "size dimensions must be non-negative").WithLiteral(original)
	}
	if w == 0 && h == 0 {
		return SizeSpec{Kind: SizeFitToCell}, nil
	}
	return SizeSpec{Kind: SizeFixed, Width: w, Height: h}, nil
}

var a1CellRe = regexp.MustCompile(`^[A-Za-z]+[0-9]+$`)
var namedRangeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_. ]{0,63}$`)

func validateRangeFormat(rng, original string) error {
	s := strings.TrimSpace(rng)
	if i := strings.LastIndex(s, "!"); i >= 0 {
		s = s[i+1:]
	}
	if strings.Contains(s, ":") {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) == 2 && a1CellRe.MatchString(parts[0]) && a1CellRe.MatchString(parts[1]) {
			return nil
		}
		return tbegerr.New(tbegerr.InvalidRangeFormat, "range is not a valid A1:A1 span").WithLiteral(original)
	}
	if namedRangeRe.MatchString(s) {
		return nil
	}
	return tbegerr.New(tbegerr.InvalidRangeFormat, "range is not a valid A1 range or named range").WithLiteral(original)
}

var identifierRe = regexp.MustCompile(`^\w+$`)

func identifierLike(s string) bool {
	return identifierRe.MatchString(s)
}
