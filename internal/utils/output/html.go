package output

import (
	"html/template"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// CleanHTML removes unwanted elements and attributes to produce a safe HTML excerpt
func CleanHTML(htmlContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	// Remove unwanted tags
	doc.Find("script, style, link, meta, noscript, iframe, svg, form, input, button, select, textarea, canvas").Remove()

	// Clean attributes
	doc.Find("*").Each(func(i int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		node := s.Nodes[0]
		var newAttrs []html.Attribute
		for _, attr := range node.Attr {
			keep := false
			switch node.Data {
			case "a":
				if attr.Key == "href" || attr.Key == "title" {
					keep = true
				}
			case "img":
				if attr.Key == "src" || attr.Key == "alt" || attr.Key == "title" {
					keep = true
				}
			default:
				// keep no attributes by default
			}
			if keep {
				newAttrs = append(newAttrs, attr)
			}
		}
		node.Attr = newAttrs
	})

	// Return sanitized HTML (preserve tags for downstream converters)
	htmlStr, err := doc.Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(htmlStr), nil
}

var linkPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// TextToHTML renders plain text (such as a video description) as HTML paragraphs,
// turning bare URLs into links
func TextToHTML(text string) string {
	var sb strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sb.WriteString("<p>")
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				sb.WriteString("<br>")
			}
			sb.WriteString(linkify(line))
		}
		sb.WriteString("</p>\n")
	}
	return sb.String()
}

func linkify(line string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range linkPattern.FindAllStringIndex(line, -1) {
		sb.WriteString(template.HTMLEscapeString(line[last:loc[0]]))
		u := template.HTMLEscapeString(line[loc[0]:loc[1]])
		sb.WriteString(`<a href="` + u + `">` + u + `</a>`)
		last = loc[1]
	}
	sb.WriteString(template.HTMLEscapeString(line[last:]))
	return sb.String()
}
