package livenative

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

var (
	minifier *minify.M
	once     sync.Once
)

// getMinifier returns a configured HTML minifier (singleton). End tags,
// quotes and default attribute values are kept so the minified markup parses
// into the same element tree with the same attributes.
func getMinifier() *minify.M {
	once.Do(func() {
		minifier = minify.New()
		minifier.Add("text/html", &html.Minifier{
			KeepEndTags:         true,
			KeepDocumentTags:    true,
			KeepDefaultAttrVals: true,
			KeepQuotes:          true,
		})
	})
	return minifier
}

// minifyHTML collapses insignificant whitespace in rendered markup
func minifyHTML(htmlContent string) (string, error) {
	if !strings.Contains(htmlContent, "<") {
		return htmlContent, nil
	}
	minified, err := getMinifier().String("text/html", htmlContent)
	if err != nil {
		return "", fmt.Errorf("failed to minify markup: %w", err)
	}
	return minified, nil
}
