package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// PropertyDef declares one property new objects of a type receive.
type PropertyDef struct {
	Key     string       `json:"key" yaml:"key"`
	Label   string       `json:"label" yaml:"label"`
	Type    PropertyType `json:"type" yaml:"type"`
	Options []string     `json:"options,omitempty" yaml:"options,omitempty"`
}

// Validate checks a property definition.
func (d PropertyDef) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Key, validation.Required),
		validation.Field(&d.Label, validation.Required),
		validation.Field(&d.Type, validation.Required, validation.In(propertyTypes...)),
	)
}

// TypeSchema lists the properties and presentation metadata of an object type.
type TypeSchema struct {
	Name       string        `json:"name" yaml:"name"`
	Color      string        `json:"color" yaml:"color"`
	Properties []PropertyDef `json:"properties" yaml:"properties"`
}

// Validate checks a type schema.
func (s TypeSchema) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Properties),
	)
}

// NewProperties returns empty properties in declaration order.
func (s TypeSchema) NewProperties() []Property {
	out := make([]Property, 0, len(s.Properties))
	for _, d := range s.Properties {
		out = append(out, Property{Key: d.Key, Label: d.Label, Type: d.Type})
	}
	return out
}

// TagConfig holds presentation metadata for a tag.
type TagConfig struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// CalendarEvent is the stored shape of an ingested calendar entry.
type CalendarEvent struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendar_id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Location   string    `json:"location,omitempty"`
	Attendees  []string  `json:"attendees,omitempty"`
	ObjectID   string    `json:"object_id,omitempty"`
}

// MailMessage is the stored shape of an ingested mail message.
type MailMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	From       string    `json:"from"`
	To         []string  `json:"to,omitempty"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	ObjectID   string    `json:"object_id,omitempty"`
}

// Asset is a binary embedded in object content via an asset:<id> marker.
type Asset struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MIMEType     string `json:"mime_type"`
	Checksum     string `json:"checksum"`
	Data         []byte `json:"-"`
	RemoteFileID string `json:"remote_file_id,omitempty"`
	RemoteURL    string `json:"remote_url,omitempty"`
}

// Uploaded reports whether the asset already has a permanent remote URL.
func (a *Asset) Uploaded() bool {
	return a.RemoteURL != ""
}
