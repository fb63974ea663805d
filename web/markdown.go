package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"

	"github.com/stevegt/sonarchat/client"
	"github.com/stevegt/sonarchat/core"
	"github.com/yuin/goldmark"
)

// Entry is one transcript message as sent to the browser.
type Entry struct {
	core.Rendered
	// HTML is the answer rendered from markdown, if there is one.
	HTML string `json:"html,omitempty"`
}

var refPattern = regexp.MustCompile(`\[(\d+)\]`)

// linkifyReferences replaces each "[N]" with a markdown link to the
// Nth citation.
func linkifyReferences(input string, citations []string) string {
	return refPattern.ReplaceAllStringFunc(input, func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || n < 1 || n > len(citations) {
			return m
		}
		return fmt.Sprintf("[[%d]](%s)", n, citations[n-1])
	})
}

// markdownToHTML converts markdown text to HTML using goldmark.
func markdownToHTML(markdown string, citations []string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(linkifyReferences(markdown, citations)), &buf); err != nil {
		log.Printf("Markdown conversion error: %v", err)
		return "<p>Error rendering markdown</p>"
	}
	return buf.String()
}

// answerHTML renders the answer carried by a raw completion response.
// It returns false for anything that is not a completion response,
// such as a recorded error.
func answerHTML(raw string) (html string, ok bool) {
	content, err := core.ExtractMessage([]byte(raw))
	if err != nil || content == "" {
		return "", false
	}
	var extra struct {
		Citations []string `json:"citations"`
	}
	json.Unmarshal([]byte(raw), &extra)
	return markdownToHTML(content, extra.Citations), true
}

// renderEntries prepares a transcript for the browser.
func renderEntries(t core.Transcript) (entries []Entry) {
	entries = []Entry{}
	for _, r := range core.RenderTranscript(t) {
		e := Entry{Rendered: r}
		if r.Role == client.RoleAssistant {
			switch r.Kind {
			case core.KindJSON:
				e.HTML, _ = answerHTML(r.Body)
			case core.KindText:
				e.HTML = markdownToHTML(r.Body, nil)
			}
		}
		entries = append(entries, e)
	}
	return
}
