package export

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Meeting Notes", "Meeting-Notes"},
		{"Q3 / Budget: final?", "Q3--Budget-final"},
		{"", "document"},
		{"///", "document"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, c := range cases {
		if got := sanitizeFilename(c.in); got != c.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	if got := percentEncodeForDataURL("a b"); got != "a%20b" {
		t.Errorf("space encoding: got %q", got)
	}
	if got := percentEncodeForDataURL("<p>&amp;</p>"); got != "%3Cp%3E%26amp%3B%3C%2Fp%3E" {
		t.Errorf("reserved char encoding: got %q", got)
	}
	if got := percentEncodeForDataURL("abc-_.~123"); got != "abc-_.~123" {
		t.Errorf("unreserved chars must pass through: got %q", got)
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	html, err := RenderDocumentHTML(TemplateData{
		Title:     "Launch <Plan>",
		Content:   "<p>hello <b>world</b></p>",
		Author:    "alice",
		Version:   3,
		UpdatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "Launch &lt;Plan&gt;") {
		t.Error("title not escaped in output")
	}
	if !strings.Contains(html, "<p>hello <b>world</b></p>") {
		t.Error("document body should be rendered as-is")
	}
	if !strings.Contains(html, "alice") || !strings.Contains(html, "v3") {
		t.Error("metadata line missing author or version")
	}
	if !strings.Contains(html, "May 1, 2026") {
		t.Error("metadata line missing formatted date")
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService()
	_, err := svc.Export(Document{Title: "x"}, Format("docx"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
