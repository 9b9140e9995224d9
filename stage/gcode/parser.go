package gcode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedNumber is wrapped by ParseError when a parameter value is not a number
var ErrMalformedNumber = errors.New("malformed number")

// ParseError reports a line that could not be parsed. The raw line is kept
// so callers can pass it through untouched.
type ParseError struct {
	LineNo int
	Line   string
	Token  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %q in %q: %v", e.LineNo, e.Token, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Param is a single letter/value word
type Param struct {
	Letter byte
	Value  float64
}

// Command represents one parsed G-code line
type Command struct {
	Code       string  // normalised command word, e.g. "G1", "M104", "G38.2"; empty for modal or comment lines
	LineNumber int     // N word, 0 when absent
	Params     []Param // parameters in input order
	Comment    string  // comment text without the delimiter, trimmed
	Verbatim   bool    // line does not start with a word (e.g. "%", "$H") and is kept as-is
	Raw        string
}

// IsComment reports whether the line carries nothing but a comment
func (cmd *Command) IsComment() bool {
	return cmd.Code == "" && len(cmd.Params) == 0 && !cmd.Verbatim
}

// Letter returns the command letter, or 0 for modal and comment lines
func (cmd *Command) Letter() byte {
	if cmd.Code == "" {
		return 0
	}
	return cmd.Code[0]
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(letter byte) bool {
	for _, p := range cmd.Params {
		if p.Letter == letter {
			return true
		}
	}
	return false
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(letter byte, defaultValue float64) float64 {
	for _, p := range cmd.Params {
		if p.Letter == letter {
			return p.Value
		}
	}
	return defaultValue
}

// Parser handles G-code parsing
type Parser struct {
	lineNo int
}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code. Blank lines yield a nil command.
func (p *Parser) ParseLine(line string) (*Command, error) {
	p.lineNo++

	i := skipSpace(line, 0)
	if i >= len(line) {
		return nil, nil
	}

	cmd := &Command{Raw: line}

	// Comment-only line
	if line[i] == ';' || line[i] == '(' {
		cmd.Comment = commentText(line[i:])
		return cmd, nil
	}

	if !isLetter(line[i]) {
		cmd.Verbatim = true
		return cmd, nil
	}

	first := true
	for {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}

		// Check for comment
		if line[i] == ';' || line[i] == '(' {
			cmd.Comment = commentText(line[i:])
			break
		}

		if !isLetter(line[i]) {
			return nil, p.errorf(line, line[i:i+1], "unexpected character")
		}

		letter := toUpper(line[i])
		start := i
		i++
		end := scanNumber(line, i)
		token := line[start:end]

		value, err := strconv.ParseFloat(line[i:end], 64)
		if err != nil {
			return nil, &ParseError{LineNo: p.lineNo, Line: line, Token: token, Err: ErrMalformedNumber}
		}
		i = end

		switch {
		case letter == 'N' && first:
			cmd.LineNumber = int(value)
			continue
		case first && (letter == 'G' || letter == 'M' || letter == 'T'):
			cmd.Code = string(letter) + strconv.FormatFloat(value, 'f', -1, 64)
		default:
			cmd.Params = append(cmd.Params, Param{Letter: letter, Value: value})
		}
		first = false
	}

	return cmd, nil
}

func (p *Parser) errorf(line, token, msg string) error {
	return &ParseError{LineNo: p.lineNo, Line: line, Token: token, Err: errors.New(msg)}
}

// commentText strips the comment delimiters
func commentText(s string) string {
	if s[0] == '(' {
		s = strings.TrimSuffix(s[1:], ")")
	} else {
		s = s[1:]
	}
	return strings.TrimSpace(s)
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\r' || s[pos] == '\n') {
		pos++
	}
	return pos
}

// scanNumber returns the end of the numeric run starting at pos
func scanNumber(s string, pos int) int {
	for pos < len(s) {
		c := s[pos]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' {
			pos++
			continue
		}
		break
	}
	return pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
