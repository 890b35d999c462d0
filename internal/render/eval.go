package render

import (
	"errors"
	"strings"

	"github.com/jogakdal/tbeg/internal/markers"
	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/value"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
)

// EvalKind discriminates what a rendered cell should become.
type EvalKind int

const (
	EvalEmpty EvalKind = iota
	EvalString
	EvalNumber
	EvalFormula
	EvalImage
)

// EvalResult is one cell's rendered content, ready to be written via
// excelize's SetCellValue/SetCellFormula, or deferred for image insertion.
type EvalResult struct {
	Kind        EvalKind
	Text        string
	Number      float64
	FormulaText string
	Image       markers.ImageMarker
}

// Evaluate resolves one analyzed cell's content against prov, with
// itemBindings supplying the current repeat-region loop variable(s) (empty
// when the cell is outside any region). A RepeatMarker itself always
// erases to Empty: the declaration never appears as content.
func Evaluate(content markers.CellContent, prov provider.Provider, itemBindings map[string]value.Value) (EvalResult, error) {
	switch c := content.(type) {
	case markers.Empty:
		return EvalResult{Kind: EvalEmpty}, nil
	case markers.RepeatMarker:
		return EvalResult{Kind: EvalEmpty}, nil
	case markers.StaticString:
		return EvalResult{Kind: EvalString, Text: c.Text}, nil
	case markers.StaticNumber:
		return EvalResult{Kind: EvalNumber, Number: c.Value}, nil
	case markers.Variable:
		v, ok := resolveName(c.Name, prov, itemBindings)
		if !ok {
			return EvalResult{}, tbegerr.New(tbegerr.MissingTemplateData, "no value for referenced variable").WithLiteral(c.Name)
		}
		return valueToResult(v), nil
	case markers.ItemField:
		root, ok := itemBindings[c.ItemVar]
		if !ok {
			// No item bound means this is a blank repeat unit (the
			// collection was empty): the field renders as an empty cell.
			return EvalResult{Kind: EvalEmpty}, nil
		}
		v, ok := value.Get(root, c.FieldPath)
		if !ok {
			return EvalResult{}, tbegerr.New(tbegerr.MissingTemplateData, "no value for referenced item field").WithLiteral(c.OriginalText)
		}
		return valueToResult(v), nil
	case markers.InterpolatedString:
		text, missing := markers.ReplaceTokens(c.Text, func(name string) (string, bool) {
			v, ok := resolveDotted(name, prov, itemBindings)
			if !ok {
				return "", false
			}
			return v.String(), true
		})
		if len(missing) > 0 {
			return EvalResult{}, tbegerr.New(tbegerr.MissingTemplateData, "no value for embedded variable").WithLiteral(missing[0])
		}
		return EvalResult{Kind: EvalString, Text: text}, nil
	case markers.Formula:
		return EvalResult{Kind: EvalFormula, FormulaText: c.Text}, nil
	case markers.FormulaWithVariables:
		text, missing := markers.ReplaceTokens(c.Text, func(name string) (string, bool) {
			v, ok := resolveName(name, prov, itemBindings)
			if !ok {
				return "", false
			}
			return v.String(), true
		})
		if len(missing) > 0 {
			return EvalResult{}, tbegerr.New(tbegerr.MissingTemplateData, "no value for formula-referenced variable").WithLiteral(missing[0])
		}
		return EvalResult{Kind: EvalFormula, FormulaText: text}, nil
	case markers.ImageMarker:
		return EvalResult{Kind: EvalImage, Image: c}, nil
	case markers.SizeMarker:
		n, err := collectionSize(prov, c.CollectionName)
		if err != nil {
			return EvalResult{}, err
		}
		return EvalResult{Kind: EvalNumber, Number: float64(n)}, nil
	default:
		return EvalResult{Kind: EvalEmpty}, nil
	}
}

// evaluateCell is Evaluate plus the configured missing-data policy: under
// WARN, a MissingTemplateData failure falls back to the marker's original
// template text so the generation proceeds and the gap stays visible in
// the output.
func evaluateCell(content markers.CellContent, prov provider.Provider, itemBindings map[string]value.Value, opts Options) (EvalResult, error) {
	res, err := Evaluate(content, prov, itemBindings)
	if err == nil || !opts.MissingDataWarn {
		return res, err
	}
	var te *tbegerr.Error
	if !errors.As(err, &te) || te.Kind != tbegerr.MissingTemplateData {
		return res, err
	}
	if text, ok := fallbackText(content); ok {
		return EvalResult{Kind: EvalString, Text: text}, nil
	}
	return res, err
}

// fallbackText returns the literal a WARN-mode cell keeps when its data is
// missing. Only content that carries its own template text can fall back.
func fallbackText(content markers.CellContent) (string, bool) {
	switch c := content.(type) {
	case markers.Variable:
		return c.OriginalText, true
	case markers.ItemField:
		return c.OriginalText, true
	case markers.InterpolatedString:
		return c.Text, true
	case markers.FormulaWithVariables:
		return c.Text, true
	}
	return "", false
}

// resolveDotted resolves a possibly-dotted token name: the first segment
// through resolveName, remaining segments through value.Get's map-then-bean
// field access.
func resolveDotted(name string, prov provider.Provider, itemBindings map[string]value.Value) (value.Value, bool) {
	parts := strings.Split(name, ".")
	root, ok := resolveName(parts[0], prov, itemBindings)
	if !ok {
		return value.Value{}, false
	}
	if len(parts) == 1 {
		return root, true
	}
	return value.Get(root, parts[1:])
}

// resolveName looks up a bare name first against the current item
// bindings (so `${item}` inside its own region can reference the whole
// bound value) and falls back to the provider's named variables.
func resolveName(name string, prov provider.Provider, itemBindings map[string]value.Value) (value.Value, bool) {
	if itemBindings != nil {
		if v, ok := itemBindings[name]; ok {
			return v, true
		}
	}
	return prov.GetValue(name)
}

func collectionSize(prov provider.Provider, name string) (int, error) {
	if n, ok := prov.GetItemCount(name); ok {
		return n, nil
	}
	it, ok := prov.GetItems(name)
	if !ok {
		return 0, tbegerr.New(tbegerr.MissingTemplateData, "no collection for size marker").WithLiteral(name)
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n, nil
}

func valueToResult(v value.Value) EvalResult {
	switch v.Kind() {
	case value.KindNull:
		return EvalResult{Kind: EvalEmpty}
	case value.KindInt:
		i, _ := v.AsInt()
		return EvalResult{Kind: EvalNumber, Number: float64(i)}
	case value.KindFloat:
		f, _ := v.AsFloat()
		return EvalResult{Kind: EvalNumber, Number: f}
	case value.KindBool:
		b, _ := v.AsBool()
		return EvalResult{Kind: EvalString, Text: boolText(b)}
	default:
		return EvalResult{Kind: EvalString, Text: v.String()}
	}
}

func boolText(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
