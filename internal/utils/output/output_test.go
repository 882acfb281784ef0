package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCleanHTMLStripsScriptsAndAttributes(t *testing.T) {
	got, err := CleanHTML(`<div class="x" onclick="y()"><script>alert(1)</script><a href="/a" class="l">link</a></div>`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "script") || strings.Contains(got, "onclick") || strings.Contains(got, `class=`) {
		t.Errorf("unexpected content left: %s", got)
	}
	if !strings.Contains(got, `<a href="/a">link</a>`) {
		t.Errorf("link lost: %s", got)
	}
}

func TestTextToHTML(t *testing.T) {
	got := TextToHTML("Guests: <Ann & Bo>\nMore at https://example.com/show\n\nSecond paragraph")
	want := "<p>Guests: &lt;Ann &amp; Bo&gt;<br>More at <a href=\"https://example.com/show\">https://example.com/show</a></p>\n<p>Second paragraph</p>\n"
	if got != want {
		t.Errorf("TextToHTML:\n got %q\nwant %q", got, want)
	}
}

func TestDescriptionMarkdown(t *testing.T) {
	got, err := DescriptionMarkdown("Episode 12\nhttps://example.com/ep12", "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Episode 12") || !strings.Contains(got, "[https://example.com/ep12](https://example.com/ep12)") {
		t.Errorf("unexpected markdown: %q", got)
	}

	empty, err := DescriptionMarkdown("", "")
	if err != nil || empty != "" {
		t.Errorf("empty description = %q, %v", empty, err)
	}
}

func TestMarkdownResolvesRelativeLinks(t *testing.T) {
	got, err := Markdown(`<p>See <a href="/watch?v=abc">this</a></p>`, "https://www.youtube.com/@panel")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "[this](https://www.youtube.com/watch?v=abc)") {
		t.Errorf("unexpected markdown: %q", got)
	}
}

func TestJSONWriters(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\n  \"n\": 1\n}\n" {
		t.Errorf("WriteJSON = %q", buf.String())
	}

	path := filepath.Join(t.TempDir(), "out.json")
	if err := SaveJSON([]string{"a"}, path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[\n  \"a\"\n]\n" {
		t.Errorf("SaveJSON = %q", data)
	}
}
