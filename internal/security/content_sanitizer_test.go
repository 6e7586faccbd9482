package security

import (
	"strings"
	"testing"
)

func TestSanitizeText_StripsTags(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"太字タグ", "<b>Is the flat still available?</b>", "Is the flat still available?"},
		{"リンク", `<a href="https://example.com">see listing</a>`, "see listing"},
		{"段落と改行", "<p>line one<br>line two</p>", "line oneline two"},
		{"画像", `<img src="https://example.com/x.png" alt="x">hello`, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeText_RemovesScriptAndStyleContent(t *testing.T) {
	s := NewTextSanitizer()

	got := s.SanitizeText(`hi<script>alert("xss")</script><style>body{display:none}</style>`)
	if got != "hi" {
		t.Errorf("SanitizeText() = %q, want %q", got, "hi")
	}
}

func TestSanitizeText_EventAttributesDoNotSurvive(t *testing.T) {
	s := NewTextSanitizer()

	payloads := []string{
		`<img src=x onerror=alert(1)>`,
		`<svg onload=alert(1)>`,
		`<div onclick="steal()">click</div>`,
		`<iframe src="javascript:alert(1)"></iframe>`,
	}
	for _, p := range payloads {
		got := s.SanitizeText(p)
		if strings.Contains(got, "<") || strings.Contains(strings.ToLower(got), "onerror") ||
			strings.Contains(strings.ToLower(got), "onload") {
			t.Errorf("SanitizeText(%q) = %q, markup survived", p, got)
		}
	}
}

func TestSanitizeText_PreservesPlainCharacters(t *testing.T) {
	s := NewTextSanitizer()

	input := `Rent is 1200 & deposit < 2 months, "negotiable"`
	if got := s.SanitizeText(input); got != input {
		t.Errorf("SanitizeText(%q) = %q, want unchanged", input, got)
	}
}

func TestSanitizeText_NonASCII(t *testing.T) {
	s := NewTextSanitizer()

	input := "¿Sigue disponible el apartamento? 👍"
	if got := s.SanitizeText(input); got != input {
		t.Errorf("SanitizeText(%q) = %q, want unchanged", input, got)
	}
}

func TestSanitizeText_TrimsWhitespace(t *testing.T) {
	s := NewTextSanitizer()

	if got := s.SanitizeText("   hello  \n"); got != "hello" {
		t.Errorf("SanitizeText() = %q, want %q", got, "hello")
	}
	if got := s.SanitizeText("<p>   </p>"); got != "" {
		t.Errorf("SanitizeText() = %q, want empty", got)
	}
}

func TestSanitizeText_EmptyInput(t *testing.T) {
	s := NewTextSanitizer()

	if got := s.SanitizeText(""); got != "" {
		t.Errorf("SanitizeText(\"\") = %q, want empty", got)
	}
}

func TestSanitizeText_Idempotent(t *testing.T) {
	s := NewTextSanitizer()

	inputs := []string{
		"<b>bold</b> text",
		"a < b && c > d",
		`<a href="x">link</a> & more`,
	}
	for _, in := range inputs {
		first := s.SanitizeText(in)
		second := s.SanitizeText(first)
		if first != second {
			t.Errorf("not idempotent for %q: first=%q second=%q", in, first, second)
		}
	}
}

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}
