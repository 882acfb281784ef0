package output

import (
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	urlutil "github.com/law-makers/panelwatch/internal/utils/url"
)

// Markdown cleans htmlContent and converts it to GitHub-flavored Markdown, resolving
// relative links against baseURL
func Markdown(htmlContent, baseURL string) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	converter.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
			href, exists := selec.Attr("href")
			if !exists {
				return nil
			}

			resolved := urlutil.ResolveURL(baseURL, href)
			title, hasTitle := selec.Attr("title")
			var titlePart string
			if hasTitle {
				titlePart = fmt.Sprintf(" %q", title)
			}
			str := fmt.Sprintf("[%s](%s)%s", selec.Text(), resolved, titlePart)
			return &str
		},
	})

	cleaned, err := CleanHTML(htmlContent)
	if err != nil {
		return "", err
	}
	return converter.ConvertString(cleaned)
}

// DescriptionMarkdown converts a plain-text video description to Markdown
func DescriptionMarkdown(description, videoURL string) (string, error) {
	if description == "" {
		return "", nil
	}
	return Markdown(TextToHTML(description), videoURL)
}
