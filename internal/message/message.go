// Package message models the tagged messages processes append to their logs.
package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Well-known tag names.
const (
	TagAction           = "Action"
	TagGroupID          = "Group-Id"
	TagForwardedGroupID = "X-Group-ID"
	TagStatus           = "Status"
	TagMessage          = "Message"
	TagOrderID          = "OrderId"
)

// ErrMalformed marks messages rejected at the reader boundary.
var ErrMalformed = errors.New("malformed message")

// Tag is a single name/value pair. Tag lists are ordered and may repeat names.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a validated entry read from a process log.
type Message struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	Target   string `json:"target,omitempty"`
	Tags     []Tag  `json:"tags"`
	Data     string `json:"data,omitempty"`
	Sequence int64  `json:"sequence"`
}

// New builds a message and validates its tag list.
func New(id, from string, tags []Tag, data string, sequence int64) (Message, error) {
	msg := Message{ID: id, From: from, Tags: tags, Data: data, Sequence: sequence}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate rejects tag lists with unnamed entries or a missing Action.
func (m Message) Validate() error {
	for i, tag := range m.Tags {
		if strings.TrimSpace(tag.Name) == "" {
			return fmt.Errorf("%w: tag %d has no name", ErrMalformed, i)
		}
	}
	if m.Action() == "" {
		return fmt.Errorf("%w: missing %s tag", ErrMalformed, TagAction)
	}
	return nil
}

// Action returns the semantic event name of the message.
func (m Message) Action() string {
	v, _ := TagValue(m.Tags, TagAction)
	return v
}

// Tag looks up the first tag with the given name.
func (m Message) Tag(name string) (string, bool) {
	return TagValue(m.Tags, name)
}

// CorrelationID returns the correlation token echoed by the message, checking
// the Group-Id tag, the forwarded X-Group-ID tag and finally an X-Group-ID
// field nested in the data (top level or under Input, which may itself be an
// encoded JSON string).
func (m Message) CorrelationID() string {
	if v, ok := TagValue(m.Tags, TagGroupID); ok && v != "" {
		return v
	}
	if v, ok := TagValue(m.Tags, TagForwardedGroupID); ok && v != "" {
		return v
	}
	return nestedGroupID(m.Data)
}

// Correlates reports whether any correlation source on the message equals
// id. A message may carry its own Group-Id alongside the forwarded one.
func (m Message) Correlates(id string) bool {
	if id == "" {
		return false
	}
	for _, tag := range m.Tags {
		if (tag.Name == TagGroupID || tag.Name == TagForwardedGroupID) && tag.Value == id {
			return true
		}
	}
	return nestedGroupID(m.Data) == id
}

func nestedGroupID(data string) string {
	if data == "" || !gjson.Valid(data) {
		return ""
	}
	if v := gjson.Get(data, TagForwardedGroupID); v.Exists() {
		return v.String()
	}
	input := gjson.Get(data, "Input")
	switch {
	case !input.Exists():
		return ""
	case input.Type == gjson.String && gjson.Valid(input.Str):
		return gjson.Get(input.Str, TagForwardedGroupID).String()
	case input.IsObject():
		return input.Get(TagForwardedGroupID).String()
	}
	return ""
}

// TagValue returns the value of the first tag named name.
func TagValue(tags []Tag, name string) (string, bool) {
	for _, tag := range tags {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

// ValueForAction returns tagName from the first message whose Action equals
// action, or def when no such message carries the tag.
func ValueForAction(msgs []Message, tagName, action, def string) string {
	for _, msg := range msgs {
		if msg.Action() != action {
			continue
		}
		if v, ok := msg.Tag(tagName); ok {
			return v
		}
	}
	return def
}
