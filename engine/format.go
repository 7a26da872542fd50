package engine

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/text/unicode/norm"
)

// newMarkdownConverter creates a reusable, goroutine-safe Converter for
// rich-text fields (descriptions, eligibility notes):
//
//   - base plugin: strips script, style, iframe, noscript and comments.
//   - commonmark plugin: headings, lists, links, emphasis.
//   - table plugin: keeps fee and score tables as Markdown tables.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// toMarkdown converts an HTML fragment to Markdown, resolving relative
// links against domain.
func toMarkdown(conv *converter.Converter, htmlContent, domain string) (string, error) {
	md, err := conv.ConvertString(htmlContent, converter.WithDomain(domain))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeText applies NFKC (non-breaking spaces, full-width digits and
// ligatures become their plain forms) and collapses whitespace.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// applyPattern keeps the first capture group of re, or the whole match when
// re has no groups. No match yields "".
func applyPattern(re *regexp.Regexp, s string) string {
	if re == nil {
		return s
	}
	m := re.FindStringSubmatch(s)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(m[0])
}
