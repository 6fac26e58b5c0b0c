// Package actions extracts tagged actions from model output and manages the incomplete-tag
// trimming needed for mid-stream gateway interrupts.
package actions

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// MaxPayloadBytes bounds a single action payload to guard against pathological input.
const MaxPayloadBytes = 1 << 20 // 1MB

// openTagPattern matches an opening `<name>` tag, case-insensitive. Python's
// `r'<(\w+)>(.*?)</\1>'` matches whole pairs with a backreference; Go's RE2 has no
// backreferences, so name capture and close-tag matching are done in two passes below.
var openTagPattern = regexp.MustCompile(`(?is)<(\w+)>`)

// Parser extracts actions from assistant text per the core's closed tag-name set.
type Parser struct{}

// New creates an action Parser.
func New() *Parser { return &Parser{} }

// Parse returns every complete, well-formed `<name>payload</name>` pair in text whose name is
// a member of the known action set. Matching is case-insensitive; unknown tag names and
// unclosed tags are ignored. Duplicate names are returned in order of appearance.
func (p *Parser) Parse(text string) ([]models.Action, error) {
	if len(text) > MaxPayloadBytes*8 {
		return nil, fmt.Errorf("actions: input exceeds maximum scan size")
	}

	var out []models.Action
	pos := 0
	for pos < len(text) {
		loc := openTagPattern.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		nameStart, nameEnd := pos+loc[2], pos+loc[3]
		tagEnd := pos + loc[1]
		name := text[nameStart:nameEnd]

		closeTag := "</" + name + ">"
		closeIdx := indexFold(text[tagEnd:], closeTag)
		if closeIdx < 0 {
			// No matching close tag anywhere after this open tag; skip past the open tag
			// and keep scanning — it may simply be unclosed content, or a later open tag
			// of the same name may close first under nested-tag tolerance.
			pos = tagEnd
			continue
		}

		payload := text[tagEnd : tagEnd+closeIdx]
		if len(payload) > MaxPayloadBytes {
			return nil, fmt.Errorf("actions: payload for <%s> exceeds %d bytes", name, MaxPayloadBytes)
		}

		if known, canonical := lookupKnown(name); known {
			out = append(out, models.Action{
				Name:    canonical,
				Payload: html.UnescapeString(payload),
			})
		}

		pos = tagEnd + closeIdx + len(closeTag)
	}
	return out, nil
}

// ContainsCompleteAction reports whether text contains at least one complete, recognized
// action tag. The LLM Gateway uses this to decide whether to interrupt a stream mid-flight.
func (p *Parser) ContainsCompleteAction(text string) bool {
	actions, err := p.Parse(text)
	return err == nil && len(actions) > 0
}

// StripIncompleteTags removes any partial opening tag trailing after the last complete action
// (or after the start of text, if no complete action exists), so that interrupted streaming
// output never ends mid-tag.
func (p *Parser) StripIncompleteTags(text string) string {
	lastComplete := p.lastCompleteActionEnd(text)
	trailing := text[lastComplete:]

	if idx := strings.LastIndex(trailing, "<"); idx >= 0 {
		// If what follows "<" never closes within the trailing segment, it's a partial
		// open tag (or the start of one) — drop from there.
		rest := trailing[idx:]
		if !strings.Contains(rest, ">") || !hasMatchingClose(rest) {
			return text[:lastComplete+idx]
		}
	}
	return text
}

func hasMatchingClose(fragment string) bool {
	loc := openTagPattern.FindStringSubmatchIndex(fragment)
	if loc == nil {
		return false
	}
	name := fragment[loc[2]:loc[3]]
	return indexFold(fragment[loc[1]:], "</"+name+">") >= 0
}

func (p *Parser) lastCompleteActionEnd(text string) int {
	pos := 0
	last := 0
	for pos < len(text) {
		loc := openTagPattern.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		nameStart, nameEnd := pos+loc[2], pos+loc[3]
		tagEnd := pos + loc[1]
		name := text[nameStart:nameEnd]
		closeTag := "</" + name + ">"
		closeIdx := indexFold(text[tagEnd:], closeTag)
		if closeIdx < 0 {
			pos = tagEnd
			continue
		}
		end := tagEnd + closeIdx + len(closeTag)
		last = end
		pos = end
	}
	return last
}

func indexFold(haystack, needle string) int {
	return strings.Index(strings.ToLower(haystack), strings.ToLower(needle))
}

func lookupKnown(name string) (bool, models.ActionName) {
	lower := strings.ToLower(name)
	for _, known := range models.KnownActionNames {
		if string(known) == lower {
			return true, known
		}
	}
	return false, ""
}
