// Package recommend extracts structured plan recommendations from generated
// text by scanning it for verbatim plan titles.
package recommend

import (
	"sort"
	"strings"
)

// ExtractTitles returns the catalog titles mentioned in responseText.
// Titles are tested longest-first and every occurrence of a matched title is
// removed from the working text, so a short title never matches inside a
// longer one it is a substring of; matches are returned in that test order.
// Matching is literal and case-sensitive, performed after markdown bold
// markers are stripped.
func ExtractTitles(responseText string, catalogTitles []string) []string {
	if responseText == "" || len(catalogTitles) == 0 {
		return nil
	}

	sorted := make([]string, len(catalogTitles))
	copy(sorted, catalogTitles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})

	working := strings.ReplaceAll(responseText, "**", "")

	var matched []string
	for _, title := range sorted {
		if title == "" {
			continue
		}
		if strings.Contains(working, title) {
			matched = append(matched, title)
			working = strings.ReplaceAll(working, title, "")
		}
	}
	return matched
}
