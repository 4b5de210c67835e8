// Package models defines the domain types for loom.
package models

import (
	"errors"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Object is the atomic knowledge unit kept in the local store and mirrored
// to one remote document.
type Object struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Type       string     `json:"type"`
	Content    string     `json:"content"`
	Properties []Property `json:"properties"`
	Tags       []string   `json:"tags"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Remote     *RemoteRef `json:"remote,omitempty"`
}

// RemoteRef identifies the remote document an Object was pushed to.
type RemoteRef struct {
	FileID   string `json:"file_id"`
	Revision string `json:"revision,omitempty"`
}

// Synced reports whether the object has ever been pushed successfully.
func (o *Object) Synced() bool {
	return o.Remote != nil && o.Remote.FileID != ""
}

// Property returns the property with the given key.
func (o *Object) Property(key string) (*Property, bool) {
	for i := range o.Properties {
		if o.Properties[i].Key == key {
			return &o.Properties[i], true
		}
	}
	return nil, false
}

// HasTag reports whether the object carries tag.
func (o *Object) HasTag(tag string) bool {
	return slices.Contains(o.Tags, tag)
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	c := *o
	c.Tags = slices.Clone(o.Tags)
	c.Properties = make([]Property, len(o.Properties))
	for i, p := range o.Properties {
		c.Properties[i] = p.Clone()
	}
	if o.Remote != nil {
		r := *o.Remote
		c.Remote = &r
	}
	return &c
}

// Validate checks the object before it is written to the store.
func (o Object) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.ID, validation.Required),
		validation.Field(&o.Type, validation.Required),
		validation.Field(&o.Properties),
		validation.Field(&o.Remote),
	)
}

// Validate checks a remote reference.
func (r RemoteRef) Validate() error {
	if r.FileID == "" {
		return errors.New("file_id: cannot be blank")
	}
	return nil
}

// Link is a derived, typed edge between two objects.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}
