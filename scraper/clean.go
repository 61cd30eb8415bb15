package scraper

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	controlRuns = regexp.MustCompile(`[\r\n\t]+`)
	spaceRuns   = regexp.MustCompile(`\s{2,}`)
)

// CleanText unescapes HTML entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(s)
	s = controlRuns.ReplaceAllString(s, " ")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CleanPrice parses a price that may use a decimal comma. Invalid input gives 0.
func CleanPrice(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0
	}
	price, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return price
}
