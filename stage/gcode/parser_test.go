package gcode

import (
	"errors"
	"testing"
)

func TestParseBasicCommands(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input  string
		code   string
		params map[byte]float64
	}{
		{
			input:  "G0 X10 Y20",
			code:   "G0",
			params: map[byte]float64{'X': 10, 'Y': 20},
		},
		{
			input:  "G1 X100.5 Y200.25 F3000",
			code:   "G1",
			params: map[byte]float64{'X': 100.5, 'Y': 200.25, 'F': 3000},
		},
		{
			input:  "G01 Z-.5",
			code:   "G1",
			params: map[byte]float64{'Z': -0.5},
		},
		{
			input:  "G28",
			code:   "G28",
			params: map[byte]float64{},
		},
		{
			input:  "M104 S200",
			code:   "M104",
			params: map[byte]float64{'S': 200},
		},
		{
			input:  "G92 X0 Y0 Z0",
			code:   "G92",
			params: map[byte]float64{'X': 0, 'Y': 0, 'Z': 0},
		},
		{
			input:  "G38.2 Z-10 F100",
			code:   "G38.2",
			params: map[byte]float64{'Z': -10, 'F': 100},
		},
		{
			input:  "G1X5Y6A0.25",
			code:   "G1",
			params: map[byte]float64{'X': 5, 'Y': 6, 'A': 0.25},
		},
	}

	for _, test := range tests {
		cmd, err := parser.ParseLine(test.input)
		if err != nil {
			t.Errorf("Failed to parse '%s': %v", test.input, err)
			continue
		}

		if cmd == nil {
			t.Errorf("Got nil command for '%s'", test.input)
			continue
		}

		if cmd.Code != test.code {
			t.Errorf("Expected code %s, got %s for '%s'", test.code, cmd.Code, test.input)
		}

		if len(cmd.Params) != len(test.params) {
			t.Errorf("Expected %d parameters, got %d for '%s'", len(test.params), len(cmd.Params), test.input)
		}

		for param, value := range test.params {
			if !cmd.HasParameter(param) {
				t.Errorf("Missing parameter %c in '%s'", param, test.input)
			} else if cmd.GetParameter(param, 0) != value {
				t.Errorf("Expected %c=%f, got %c=%f in '%s'",
					param, value, param, cmd.GetParameter(param, 0), test.input)
			}
		}
	}
}

func TestParseKeepsParameterOrder(t *testing.T) {
	parser := NewParser()

	cmd, err := parser.ParseLine("G1 F900 Z2 X1")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	want := []byte{'F', 'Z', 'X'}
	for i, p := range cmd.Params {
		if p.Letter != want[i] {
			t.Errorf("Expected parameter %d to be %c, got %c", i, want[i], p.Letter)
		}
	}
}

func TestParseNegativeNumbers(t *testing.T) {
	parser := NewParser()

	cmd, err := parser.ParseLine("G1 X-10.5 Y-20")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	if cmd.GetParameter('X', 0) != -10.5 {
		t.Errorf("Expected X=-10.5, got X=%f", cmd.GetParameter('X', 0))
	}

	if cmd.GetParameter('Y', 0) != -20 {
		t.Errorf("Expected Y=-20, got Y=%f", cmd.GetParameter('Y', 0))
	}
}

func TestParseComments(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input   string
		comment string
		isOnly  bool
	}{
		{"; This is a comment", "This is a comment", true},
		{";Z:0.2", "Z:0.2", true},
		{"G0 X10 ; Move to X10", "Move to X10", false},
		{"(This is a comment)", "This is a comment", true},
	}

	for _, test := range tests {
		cmd, err := parser.ParseLine(test.input)
		if err != nil {
			t.Errorf("Failed to parse '%s': %v", test.input, err)
			continue
		}

		if cmd == nil {
			t.Errorf("Got nil command for '%s'", test.input)
			continue
		}

		if cmd.Comment != test.comment {
			t.Errorf("Expected comment %q, got %q", test.comment, cmd.Comment)
		}

		if cmd.IsComment() != test.isOnly {
			t.Errorf("Expected IsComment()=%v for '%s'", test.isOnly, test.input)
		}
	}
}

func TestParseLowercase(t *testing.T) {
	parser := NewParser()

	cmd, err := parser.ParseLine("g1 x10 y20")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	if cmd.Code != "G1" {
		t.Errorf("Expected code G1, got %s", cmd.Code)
	}

	if cmd.GetParameter('X', 0) != 10 {
		t.Errorf("Expected X=10, got X=%f", cmd.GetParameter('X', 0))
	}
}

func TestParseLineNumberAndModal(t *testing.T) {
	parser := NewParser()

	cmd, err := parser.ParseLine("N42 G1 X1")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if cmd.LineNumber != 42 || cmd.Code != "G1" {
		t.Errorf("Expected N42 G1, got N%d %s", cmd.LineNumber, cmd.Code)
	}

	cmd, err = parser.ParseLine("X3 Y4")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if cmd.Code != "" || len(cmd.Params) != 2 {
		t.Errorf("Expected modal line with 2 parameters, got %q with %d", cmd.Code, len(cmd.Params))
	}
}

func TestParseVerbatim(t *testing.T) {
	parser := NewParser()

	for _, line := range []string{"%", "$H", "?"} {
		cmd, err := parser.ParseLine(line)
		if err != nil {
			t.Fatalf("Failed to parse '%s': %v", line, err)
		}
		if !cmd.Verbatim || cmd.IsComment() {
			t.Errorf("Expected '%s' to be verbatim", line)
		}
	}
}

func TestParseMalformedNumber(t *testing.T) {
	parser := NewParser()

	for _, line := range []string{"G1 X1.2.3", "G1 Xabc", "G1 X", "G1 X5 Y--2", "G1 X5 #1"} {
		cmd, err := parser.ParseLine(line)
		if err == nil {
			t.Errorf("Expected error for '%s', got %+v", line, cmd)
			continue
		}

		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Expected *ParseError for '%s', got %T", line, err)
			continue
		}
		if pe.Line != line {
			t.Errorf("Expected raw line %q, got %q", line, pe.Line)
		}
	}

	_, err := parser.ParseLine("G1 X1.2.3")
	if !errors.Is(err, ErrMalformedNumber) {
		t.Errorf("Expected ErrMalformedNumber, got %v", err)
	}
}

func TestParseEmptyLine(t *testing.T) {
	parser := NewParser()

	for _, line := range []string{"", "   ", "\t\r"} {
		cmd, err := parser.ParseLine(line)
		if err != nil {
			t.Errorf("Empty line should not error: %v", err)
		}

		if cmd != nil {
			t.Errorf("Empty line should return nil command")
		}
	}
}
