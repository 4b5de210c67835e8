package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// PropertyType is the declared type of a metadata property.
type PropertyType string

// Property types.
const (
	PropText           PropertyType = "text"
	PropNumber         PropertyType = "number"
	PropDate           PropertyType = "date"
	PropCheckbox       PropertyType = "checkbox"
	PropURL            PropertyType = "url"
	PropSelect         PropertyType = "select"
	PropMultiSelect    PropertyType = "multi_select"
	PropReference      PropertyType = "reference"
	PropMultiReference PropertyType = "multi_reference"
)

var propertyTypes = []any{
	PropText, PropNumber, PropDate, PropCheckbox, PropURL,
	PropSelect, PropMultiSelect, PropReference, PropMultiReference,
}

// IsReference reports whether values of this type are object ids.
func (t PropertyType) IsReference() bool {
	return t == PropReference || t == PropMultiReference
}

// IsMulti reports whether values of this type are lists.
func (t PropertyType) IsMulti() bool {
	return t == PropMultiSelect || t == PropMultiReference
}

// Value holds a property value. Exactly one field is meaningful, selected
// by the owning property's declared type:
//
//	text, url, select, date, reference -> Text
//	number                             -> Number
//	checkbox                           -> Bool
//	multi_select, multi_reference      -> Items
type Value struct {
	Text   string
	Number float64
	Bool   bool
	Items  []string
}

// TextValue returns a scalar string value.
func TextValue(s string) Value { return Value{Text: s} }

// NumberValue returns a numeric value.
func NumberValue(f float64) Value { return Value{Number: f} }

// BoolValue returns a checkbox value.
func BoolValue(b bool) Value { return Value{Bool: b} }

// ListValue returns a multi-valued value.
func ListValue(items ...string) Value { return Value{Items: items} }

// Property is one typed metadata entry on an object.
type Property struct {
	Key   string       `json:"key"`
	Label string       `json:"label"`
	Type  PropertyType `json:"type"`
	Value Value        `json:"-"`
}

// Clone returns a deep copy of the property.
func (p Property) Clone() Property {
	p.Value.Items = slices.Clone(p.Value.Items)
	return p
}

// ReferenceIDs returns the object ids referenced by a reference-typed property.
func (p Property) ReferenceIDs() []string {
	switch p.Type {
	case PropReference:
		if p.Value.Text == "" {
			return nil
		}
		return []string{p.Value.Text}
	case PropMultiReference:
		return p.Value.Items
	}
	return nil
}

// String renders scalar and select values as plain text.
// Reference values render as bare ids.
func (p Property) String() string {
	switch p.Type {
	case PropNumber:
		return strconv.FormatFloat(p.Value.Number, 'f', -1, 64)
	case PropCheckbox:
		if p.Value.Bool {
			return "Yes"
		}
		return "No"
	case PropMultiSelect, PropMultiReference:
		return strings.Join(p.Value.Items, ", ")
	}
	return p.Value.Text
}

// ParseValue sets the value from its plain-text rendering (the inverse of
// String for non-reference types).
func (p *Property) ParseValue(raw string) error {
	raw = strings.TrimSpace(raw)
	p.Value = Value{}
	switch p.Type {
	case PropNumber:
		if raw == "" {
			return nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("property %s: parse number %q: %w", p.Key, raw, err)
		}
		p.Value.Number = f
	case PropCheckbox:
		p.Value.Bool = strings.EqualFold(raw, "yes") || strings.EqualFold(raw, "true")
	case PropMultiSelect, PropMultiReference:
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				p.Value.Items = append(p.Value.Items, item)
			}
		}
	default:
		p.Value.Text = raw
	}
	return nil
}

// Validate checks that the value shape matches the declared type.
func (p Property) Validate() error {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.Key, validation.Required),
		validation.Field(&p.Type, validation.Required, validation.In(propertyTypes...)),
	); err != nil {
		return err
	}
	if p.Type.IsMulti() {
		if p.Value.Text != "" {
			return fmt.Errorf("property %s: %s value must be a list", p.Key, p.Type)
		}
		if p.Type == PropMultiReference && slices.Contains(p.Value.Items, "") {
			return fmt.Errorf("property %s: empty reference id", p.Key)
		}
		return nil
	}
	if len(p.Value.Items) > 0 {
		return fmt.Errorf("property %s: %s value must be a scalar", p.Key, p.Type)
	}
	return nil
}

type propertyJSON struct {
	Key   string          `json:"key"`
	Label string          `json:"label"`
	Type  PropertyType    `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalValue encodes only the value, in the JSON shape its declared type
// implies.
func (p Property) MarshalValue() ([]byte, error) {
	switch {
	case p.Type.IsMulti():
		items := p.Value.Items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	case p.Type == PropNumber:
		return json.Marshal(p.Value.Number)
	case p.Type == PropCheckbox:
		return json.Marshal(p.Value.Bool)
	}
	return json.Marshal(p.Value.Text)
}

// UnmarshalValue replaces the value with one produced by MarshalValue.
func (p *Property) UnmarshalValue(data []byte) error {
	p.Value = Value{}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var err error
	switch {
	case p.Type.IsMulti():
		err = json.Unmarshal(data, &p.Value.Items)
	case p.Type == PropNumber:
		err = json.Unmarshal(data, &p.Value.Number)
	case p.Type == PropCheckbox:
		err = json.Unmarshal(data, &p.Value.Bool)
	default:
		err = json.Unmarshal(data, &p.Value.Text)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("property %s: value does not match type %s", p.Key, p.Type), err)
	}
	return nil
}

// MarshalJSON encodes the value in the shape its declared type implies.
func (p Property) MarshalJSON() ([]byte, error) {
	raw, err := p.MarshalValue()
	if err != nil {
		return nil, err
	}
	return json.Marshal(propertyJSON{Key: p.Key, Label: p.Label, Type: p.Type, Value: raw})
}

// UnmarshalJSON decodes the value according to the declared type.
func (p *Property) UnmarshalJSON(data []byte) error {
	var raw propertyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Key, p.Label, p.Type = raw.Key, raw.Label, raw.Type
	return p.UnmarshalValue(raw.Value)
}
