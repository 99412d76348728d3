// internal/scene/codec.go
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownKind = errors.New("scene: unknown item kind")
	ErrInvalidData = errors.New("scene: invalid item data")
)

const imageDataSchema = `{
	"type": "object",
	"properties": {
		"filename": {"type": "string"},
		"format": {"type": "string", "pattern": "^[a-z0-9]*$"}
	}
}`

const textDataSchema = `{
	"type": "object",
	"required": ["text"],
	"properties": {
		"text": {"type": "string"},
		"font": {"type": "string"},
		"size": {"type": "number", "minimum": 0}
	}
}`

const metaSchema = `{
	"type": "object",
	"properties": {
		"bounds": {
			"type": "object",
			"properties": {
				"x": {"type": "number"},
				"y": {"type": "number"},
				"width": {"type": "number", "minimum": 0},
				"height": {"type": "number", "minimum": 0}
			}
		},
		"arrangement": {
			"type": "object",
			"properties": {
				"mode": {"enum": ["", "grid", "horizontal", "vertical", "optimal"]},
				"gap": {"type": "number", "minimum": 0},
				"columns": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

type schemas struct {
	image *gojsonschema.Schema
	text  *gojsonschema.Schema
	meta  *gojsonschema.Schema
}

var (
	schemaOnce   sync.Once
	loadedSchema schemas
	schemaErr    error
)

func loadSchemas() (schemas, error) {
	schemaOnce.Do(func() {
		compile := func(src string) *gojsonschema.Schema {
			if schemaErr != nil {
				return nil
			}
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				schemaErr = fmt.Errorf("scene: compile schema: %w", err)
			}
			return s
		}
		loadedSchema = schemas{
			image: compile(imageDataSchema),
			text:  compile(textDataSchema),
			meta:  compile(metaSchema),
		}
	})
	return loadedSchema, schemaErr
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidData, strings.Join(msgs, "; "))
	}
	return nil
}

type imageData struct {
	Filename string `json:"filename,omitempty"`
	Format   string `json:"format,omitempty"`
}

type textData struct {
	Text string  `json:"text"`
	Font string  `json:"font,omitempty"`
	Size float64 `json:"size,omitempty"`
}

// EncodeData returns the JSON payload stored next to an item's geometry.
// Image bytes are not part of it.
func EncodeData(item Item) ([]byte, error) {
	switch it := item.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil item", ErrInvalidData)
	case *ImageItem:
		if it == nil {
			return nil, fmt.Errorf("%w: nil image item", ErrInvalidData)
		}
		return json.Marshal(imageData{Filename: it.Filename, Format: it.Format})
	case *TextItem:
		if it == nil {
			return nil, fmt.Errorf("%w: nil text item", ErrInvalidData)
		}
		return json.Marshal(textData{Text: it.Text, Font: it.Font, Size: it.Size})
	case *ErrorItem:
		return nil, fmt.Errorf("%w: unreadable item has no payload", ErrInvalidData)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, item)
	}
}

// DecodeItem rebuilds an item from its stored columns. blob is only used for images.
func DecodeItem(kind Kind, place Placement, raw []byte, blob []byte) (Item, error) {
	s, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	switch kind {
	case KindImage:
		if err := validate(s.image, raw); err != nil {
			return nil, err
		}
		var d imageData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		return &ImageItem{Placement: place, Data: blob, Format: d.Format, Filename: d.Filename}, nil
	case KindText:
		if err := validate(s.text, raw); err != nil {
			return nil, err
		}
		var d textData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		return &TextItem{Placement: place, Text: d.Text, Font: d.Font, Size: d.Size}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// EncodeMeta serializes scene metadata
func EncodeMeta(m Meta) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMeta validates and parses stored scene metadata
func DecodeMeta(raw []byte) (Meta, error) {
	var m Meta
	s, err := loadSchemas()
	if err != nil {
		return m, err
	}
	if err := validate(s.meta, raw); err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return m, nil
}
