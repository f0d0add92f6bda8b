// Package canonical turns record content into the byte sequence that is
// fingerprinted by the ledger.
//
// Content is either Structured (any JSON-shaped Go value) or Raw (text as the
// caller typed it). Both forms are normalised the same way: JSON is reduced to
// its RFC 8785 form (sorted keys, canonical numbers) and then re-indented with
// two spaces, so semantically identical JSON always yields identical bytes.
// Raw text that does not parse as JSON is kept byte-for-byte.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gowebpki/jcs"
)

// ErrMalformedContent is returned when content cannot be reduced to a stable
// byte form (cyclic values, NaN, channels, functions...).
var ErrMalformedContent = errors.New("canonical: malformed content")

// Separator sits between the serialised content and the watermark line.
const Separator = "---"

// ReferencePrefix introduces the record identifier line of a sealed payload.
const ReferencePrefix = "Reference:"

// Kind discriminates the two content variants.
type Kind int

const (
	KindStructured Kind = iota + 1
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Content is the tagged union handed to the ledger and the verifier.
// The zero value is an empty Raw text.
type Content struct {
	kind  Kind
	value any
	text  string
}

// Structured wraps a JSON-shaped value (maps, slices, structs, scalars).
func Structured(v any) Content {
	return Content{kind: KindStructured, value: v}
}

// Raw wraps caller-supplied text. JSON text is normalised on serialisation;
// anything else hashes from its own bytes.
func Raw(s string) Content {
	return Content{kind: KindRaw, text: s}
}

// FromJSON classifies a decoded request body: a JSON string becomes Raw text,
// every other JSON value becomes Structured.
func FromJSON(msg json.RawMessage) (Content, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 {
		return Content{}, fmt.Errorf("%w: empty content", ErrMalformedContent)
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Content{}, fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		return Raw(s), nil
	}
	// json.Number keeps the digits as sent; float64 would round large
	// integers before Serialize could reject them.
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Content{}, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedContent)
	}
	return Structured(v), nil
}

// Kind reports which variant c holds.
func (c Content) Kind() Kind {
	if c.kind == 0 {
		return KindRaw
	}
	return c.kind
}

// Value returns the wrapped structured value, or nil for Raw content.
func (c Content) Value() any { return c.value }

// Text returns the wrapped text, or "" for Structured content.
func (c Content) Text() string { return c.text }

// Serialize returns the canonical text stored in a block.
//
// Structured content holding a number that float64 cannot represent exactly
// is rejected with ErrMalformedContent, since canonical form would store a
// different value. Raw JSON text with such a number is kept verbatim.
func (c Content) Serialize() (string, error) {
	switch c.Kind() {
	case KindStructured:
		b, err := json.Marshal(c.value)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		if err := checkNumbers(b); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		out, err := pretty(b)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		return out, nil
	case KindRaw:
		if !json.Valid([]byte(c.text)) || checkNumbers([]byte(c.text)) != nil {
			return c.text, nil
		}
		out, err := pretty([]byte(c.text))
		if err != nil {
			// Valid JSON that jcs refuses still hashes deterministically from
			// its own bytes.
			return c.text, nil
		}
		return out, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %d", ErrMalformedContent, c.kind)
	}
}

// Canonicalize serialises c and seals it with the watermark and record id.
func Canonicalize(c Content, watermark, recordID string) ([]byte, error) {
	text, err := c.Serialize()
	if err != nil {
		return nil, err
	}
	return Seal(text, watermark, recordID), nil
}

// Seal builds the hashing input from already-serialised content.
func Seal(serialized, watermark, recordID string) []byte {
	var b strings.Builder
	b.Grow(len(serialized) + len(watermark) + len(recordID) + 32)
	b.WriteString(serialized)
	b.WriteString("\n" + Separator + "\n")
	b.WriteString(watermark)
	b.WriteString("\n" + ReferencePrefix)
	b.WriteString(recordID)
	return []byte(b.String())
}

// Parse decodes serialised content back into a generic value. ok is false
// when text is not JSON, in which case v is the text itself.
func Parse(text string) (v any, ok bool) {
	if !json.Valid([]byte(text)) {
		return text, false
	}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text, false
	}
	return v, true
}

// Decode returns the generic value behind c: parsed JSON for Raw JSON text,
// the opaque text otherwise, and a JSON round-trip of Structured values so
// structs compare like the maps they serialise to.
func Decode(c Content) (any, error) {
	if c.Kind() == KindRaw {
		v, _ := Parse(c.text)
		return v, nil
	}
	b, err := json.Marshal(c.value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return v, nil
}

func pretty(raw []byte) (string, error) {
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canon, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
