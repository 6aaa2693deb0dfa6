// Package header implements the one-pass header-value grammar used to
// parse Content-Type-shaped header values: token "/" token followed by
// zero or more ";" parameter pairs, per spec.md §4.2.
package header

import (
	"fmt"
	"strings"

	"github.com/aerijo/lspmitm/internal/ascii"
)

// Kind names a grammar production the cursor parser can attempt.
type Kind int

const (
	Token Kind = iota
	OptionalWhitespace
	MandatoryWhitespace
	ParamValue
	QuotedString
)

// Parser is a cursor-based parser over a single header value string. It
// tracks the first error position encountered; later productions still
// run, but the recorded error position never changes, mirroring the
// original's "sticky first error" design so a caller can attempt several
// productions in sequence and check for error only at the end.
type Parser struct {
	value      string
	index      int
	errorIndex int // -1 if no error yet
}

// NewParser returns a parser positioned at the start of value.
func NewParser(value string) *Parser {
	return &Parser{value: value, errorIndex: -1}
}

// ParseByte consumes a single expected literal byte, or records an error.
func (p *Parser) ParseByte(c byte) string {
	if p.index >= len(p.value) || p.value[p.index] != c {
		p.setError(p.index)
		return ""
	}
	p.index++
	return string(c)
}

// Parse attempts the named grammar production starting at the current
// cursor and advances the cursor past it on success.
func (p *Parser) Parse(kind Kind) string {
	i := p.index

	switch kind {
	case Token:
		for i < len(p.value) && ascii.IsTChar(p.value[i]) {
			i++
		}
		if i == p.index {
			p.setError(p.index)
			return ""
		}
		result := p.value[p.index:i]
		p.index = i
		return result

	case OptionalWhitespace, MandatoryWhitespace:
		for i < len(p.value) && ascii.IsHorizontalWhitespace(p.value[i]) {
			i++
		}
		if kind == MandatoryWhitespace && i == p.index {
			p.setError(p.index)
			return ""
		}
		result := p.value[p.index:i]
		p.index = i
		return result

	case ParamValue:
		if p.index >= len(p.value) {
			p.setError(p.index)
			return ""
		}
		if p.value[p.index] == '"' {
			return p.Parse(QuotedString)
		}
		return p.Parse(Token)

	case QuotedString:
		return p.parseQuotedString()
	}

	panic(fmt.Sprintf("header: unhandled Kind %d", kind))
}

func (p *Parser) parseQuotedString() string {
	if p.index >= len(p.value) || p.value[p.index] != '"' {
		p.setError(p.index)
		return ""
	}

	i := p.index + 1
	var b strings.Builder
	success := false

	for i < len(p.value) {
		c := p.value[i]

		if c == '"' {
			i++
			success = true
			break
		}

		if c == '\\' && i+1 < len(p.value) {
			i++
			c = p.value[i]
			if !ascii.IsHorizontalWhitespace(c) && !ascii.IsVChar(c) {
				p.setError(i)
				return ""
			}
			b.WriteByte(c)
			i++
			continue
		}

		if ascii.IsHorizontalWhitespace(c) || c == 0x21 || (c >= 0x23 && c <= 0x5B) || (c >= 0x5D && c <= 0x7E) {
			b.WriteByte(c)
			i++
			continue
		}

		break
	}

	if !success {
		p.setError(i)
		return ""
	}

	p.index = i
	return b.String()
}

// Finished reports whether the cursor has consumed the entire value.
func (p *Parser) Finished() bool {
	return p.index == len(p.value)
}

// ErrorOccurred reports whether any production has failed so far.
func (p *Parser) ErrorOccurred() bool {
	return p.errorIndex >= 0
}

func (p *Parser) setError(location int) {
	if p.errorIndex < 0 {
		p.errorIndex = location
	}
}

// Param is a single "name=value" Content-Type parameter.
type Param struct {
	Name  string
	Value string
}

// ContentType is the parsed form of a Content-Type header value: type,
// subtype, and an ordered list of parameters (spec.md §3).
type ContentType struct {
	Type       string
	Subtype    string
	Parameters []Param
}

// Charset returns the value of the "charset" parameter, if present.
func (ct ContentType) Charset() (string, bool) {
	for _, p := range ct.Parameters {
		if strings.EqualFold(p.Name, "charset") {
			return p.Value, true
		}
	}
	return "", false
}

// ParseContentType parses a Content-Type header value:
//
//	header = token "/" token ( OWS ";" OWS token "=" param-value )*
//
// It returns false if value does not conform to this grammar.
func ParseContentType(value string) (ContentType, bool) {
	p := NewParser(value)

	typ := p.Parse(Token)
	p.ParseByte('/')
	subtype := p.Parse(Token)

	if p.ErrorOccurred() {
		return ContentType{}, false
	}

	ct := ContentType{Type: typ, Subtype: subtype}

	for !p.Finished() {
		p.Parse(OptionalWhitespace)
		p.ParseByte(';')
		if p.ErrorOccurred() {
			return ContentType{}, false
		}
		p.Parse(OptionalWhitespace)
		name := p.Parse(Token)
		p.ParseByte('=')
		val := p.Parse(ParamValue)

		if p.ErrorOccurred() {
			return ContentType{}, false
		}

		ct.Parameters = append(ct.Parameters, Param{Name: name, Value: val})
	}

	return ct, true
}
