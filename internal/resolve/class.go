// Package resolve recovers a table from CSV-like text whose delimiter, quote
// and newline bytes cannot all be trusted. Every such byte is a candidate
// that is either structural or literal; Resolve searches for the assignment
// with the expected column count whose columns are the most homogeneous.
package resolve

import "github.com/hpungsan/mend/internal/errors"

// Class is the semantic class of a single byte.
type Class uint8

const (
	Digit Class = iota
	Letter
	Punctuation
	Whitespace
	Quote
	Delimiter
	Tab
	Newline
	Other

	numClasses
)

var classNames = [numClasses]string{
	"digit", "letter", "punctuation", "whitespace", "quote", "delimiter", "tab", "newline", "other",
}

func (c Class) String() string {
	if c < numClasses {
		return classNames[c]
	}
	return "unknown"
}

// Dialect names the delimiter and quote bytes of the input.
type Dialect struct {
	Delimiter byte
	Quote     byte
}

// DefaultDialect is comma-delimited with double quotes.
var DefaultDialect = Dialect{Delimiter: ',', Quote: '"'}

// Validate rejects dialects whose bytes collide with each other or with
// the row terminators.
func (d Dialect) Validate() error {
	if d.Delimiter == d.Quote {
		return errors.NewInvalidRequest("delimiter and quote must differ")
	}
	if isTerminator(d.Delimiter) || isTerminator(d.Quote) {
		return errors.NewInvalidRequest("delimiter and quote cannot be line terminators")
	}
	return nil
}

// Classify maps b to its class. CR and LF are both Newline.
func (d Dialect) Classify(b byte) Class {
	switch {
	case isTerminator(b):
		return Newline
	case b == d.Delimiter:
		return Delimiter
	case b == d.Quote:
		return Quote
	case b == '\t':
		return Tab
	case b >= '0' && b <= '9':
		return Digit
	case (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z'):
		return Letter
	case b >= 0x80:
		return Other
	case b >= '!' && b <= '~':
		return Punctuation
	case b == ' ' || b == '\v' || b == '\f':
		return Whitespace
	default:
		return Other
	}
}

// isSeparator reports whether b is a delimiter or a row terminator.
func (d Dialect) isSeparator(b byte) bool {
	return b == d.Delimiter || isTerminator(b)
}

func isTerminator(b byte) bool {
	return b == '\n' || b == '\r'
}
