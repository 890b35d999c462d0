package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jogakdal/tbeg/internal/provider"
	"github.com/jogakdal/tbeg/internal/value"
)

// dataFile is the on-disk shape of the JSON data file cmd/tbeg loads
// alongside a template: top-level buckets mirroring the Data Provider
// contract's four capabilities rather than one flat map, so a
// name collision between a scalar and a collection can never happen.
type dataFile struct {
	Values      map[string]json.RawMessage   `json:"values"`
	Collections map[string][]json.RawMessage `json:"collections"`
	Images      map[string]string            `json:"images"` // base64-encoded
	Metadata    *metadataFile                `json:"metadata"`
}

type metadataFile struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Subject     string   `json:"subject"`
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Company     string   `json:"company"`
	Manager     string   `json:"manager"`
	Created     string   `json:"created"`
}

// loadProvider reads path as a dataFile and builds a provider.MapProvider
// from it, the reference provider internal/provider ships (cmd/tbeg is a
// consumer of that contract, not a second implementation of it).
func loadProvider(path string) (*provider.MapProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}

	var df dataFile
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, fmt.Errorf("parse data file: %w", err)
	}

	mp := provider.NewMapProvider()

	for name, rawVal := range df.Values {
		v, err := decodeValue(rawVal)
		if err != nil {
			return nil, fmt.Errorf("values.%s: %w", name, err)
		}
		mp.Values[name] = v
	}

	for name, items := range df.Collections {
		seq := make([]value.Value, 0, len(items))
		for i, rawItem := range items {
			v, err := decodeValue(rawItem)
			if err != nil {
				return nil, fmt.Errorf("collections.%s[%d]: %w", name, i, err)
			}
			seq = append(seq, v)
		}
		mp.Collections[name] = seq
	}

	for name, b64 := range df.Images {
		b, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("images.%s: %w", name, err)
		}
		mp.Images[name] = b
	}

	if df.Metadata != nil {
		mp.HasMeta = true
		mp.Metadata = provider.DocumentMetadata{
			Title:       df.Metadata.Title,
			Author:      df.Metadata.Author,
			Subject:     df.Metadata.Subject,
			Keywords:    df.Metadata.Keywords,
			Description: df.Metadata.Description,
			Category:    df.Metadata.Category,
			Company:     df.Metadata.Company,
			Manager:     df.Metadata.Manager,
			Created:     df.Metadata.Created,
		}
	}

	return mp, nil
}

// decodeValue converts one JSON-decoded scalar/object/array into the
// closed value.Value sum type: objects become KindMap (so
// dotted ItemField paths resolve via map lookup), arrays become KindSeq,
// and numbers are split into Int/Float the way Excel itself distinguishes
// integral cells from decimal ones.
func decodeValue(raw json.RawMessage) (value.Value, error) {
	var anyVal any
	if err := json.Unmarshal(raw, &anyVal); err != nil {
		return value.Null(), err
	}
	return fromAny(anyVal), nil
}

func fromAny(v any) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Null()
	case bool:
		return value.Bool(t)
	case string:
		return value.Text(t)
	case float64:
		if t == float64(int64(t)) {
			return value.Int(int64(t))
		}
		return value.Float(t)
	case []any:
		seq := make([]value.Value, len(t))
		for i, e := range t {
			seq[i] = fromAny(e)
		}
		return value.Seq(seq)
	case map[string]any:
		m := make(map[string]value.Value, len(t))
		for k, e := range t {
			m[k] = fromAny(e)
		}
		return value.Map(m)
	default:
		return value.Text(fmt.Sprintf("%v", t))
	}
}
