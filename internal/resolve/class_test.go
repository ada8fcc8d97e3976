package resolve

import "testing"

func TestClassify(t *testing.T) {
	d := DefaultDialect
	tests := []struct {
		b    byte
		want Class
	}{
		{'0', Digit},
		{'9', Digit},
		{'a', Letter},
		{'Z', Letter},
		{'.', Punctuation},
		{'~', Punctuation},
		{' ', Whitespace},
		{'"', Quote},
		{',', Delimiter},
		{'\t', Tab},
		{'\n', Newline},
		{'\r', Newline},
		{0x00, Other},
		{0xC3, Other},
	}

	for _, tt := range tests {
		if got := d.Classify(tt.b); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.b, got, tt.want)
		}
	}
}

func TestClassify_DialectPrecedence(t *testing.T) {
	tab := Dialect{Delimiter: '\t', Quote: '\''}
	if got := tab.Classify('\t'); got != Delimiter {
		t.Errorf("Classify(tab) = %v, want %v", got, Delimiter)
	}
	if got := tab.Classify('\''); got != Quote {
		t.Errorf("Classify(') = %v, want %v", got, Quote)
	}
	if got := tab.Classify('"'); got != Punctuation {
		t.Errorf("Classify(\") = %v, want %v", got, Punctuation)
	}
	if got := tab.Classify(','); got != Punctuation {
		t.Errorf("Classify(,) = %v, want %v", got, Punctuation)
	}
}

func TestClassify_Total(t *testing.T) {
	d := DefaultDialect
	for b := 0; b < 256; b++ {
		if c := d.Classify(byte(b)); c >= numClasses {
			t.Fatalf("Classify(%d) = %d, out of range", b, c)
		}
	}
}

func TestDialect_Validate(t *testing.T) {
	tests := []struct {
		name    string
		d       Dialect
		wantErr bool
	}{
		{"default", DefaultDialect, false},
		{"semicolon", Dialect{Delimiter: ';', Quote: '\''}, false},
		{"same byte", Dialect{Delimiter: ',', Quote: ','}, true},
		{"newline delimiter", Dialect{Delimiter: '\n', Quote: '"'}, true},
		{"cr quote", Dialect{Delimiter: ',', Quote: '\r'}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.d.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
