package search

import (
	"fmt"
	"strings"
)

// FormatResults renders a search response as numbered, citation-ready context
// for prompt embedding. The engine's synthesized answer, when present, leads
// the block.
func FormatResults(resp *Response) string {
	if resp == nil || len(resp.Results) == 0 {
		return "No search results found."
	}

	entries := make([]string, 0, len(resp.Results)+1)
	if resp.Answer != "" {
		entries = append(entries, fmt.Sprintf("AI Summary: %s\n", resp.Answer))
	}

	for i, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		content := r.Content
		if content == "" {
			content = "No content"
		}
		entries = append(entries, fmt.Sprintf("[%d] %s\nURL: %s\nRelevance: %.2f\nContent: %s\n",
			i+1, title, r.URL, r.Score, content))
	}

	return strings.Join(entries, "\n")
}
