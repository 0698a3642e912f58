package wildcard

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"star suffix", "*.ts", "index.ts", true},
		{"star suffix rejects other ext", "*.ts", "index.js", false},
		{"star is anchored", "*.ts", "index.tsx", false},
		{"case insensitive", "*.TS", "Index.ts", true},
		{"question mark is one char", "file?.go", "file1.go", true},
		{"question mark needs a char", "file?.go", "file.go", false},
		{"question mark not two chars", "file?.go", "file12.go", false},
		{"star matches empty", "main*.go", "main.go", true},
		{"literal dot", "a.b", "axb", false},
		{"regexp metachars are literal", "x+(1)[2]$^.txt", "x+(1)[2]$^.txt", true},
		{"empty pattern matches empty", "", "", true},
		{"empty pattern rejects names", "", "a", false},
		{"full match required", "read", "readme", false},
		{"unicode question mark", "?.md", "é.md", true},
		{"star only", "*", "anything at all", true},
		{"newline in name", "a*b", "a\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compile(tt.pattern).Match(tt.input); got != tt.want {
				t.Errorf("Compile(%q).Match(%q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := Compile("*.go").String(); got != "*.go" {
		t.Errorf("String() = %q, want %q", got, "*.go")
	}
}
