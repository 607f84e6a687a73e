// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence parses agent-produced text for embedded entity
// references and light markdown structure, exposing them as blocks of
// inline spans a presentation surface can render. Entity spans resolve
// on activation through an injected lookup callback into domain data
// (expression value, p-value, audit metadata).
//
// Rendering is a pure function of the input text: the same text always
// produces structurally identical output. Entity references are created
// transiently per render and never persisted.
//
// Thread Safety:
//
//	Render has no shared state and is safe for concurrent use. Blocks
//	and spans are value types.
package evidence

import (
	"regexp"
	"strings"
)

// EntityKind names the class of domain object an inline tag points at.
type EntityKind string

const (
	// EntityGene references a gene symbol (e.g., TP53).
	EntityGene EntityKind = "GENE"

	// EntityPathway references a pathway identifier (e.g., hsa04110).
	EntityPathway EntityKind = "PATHWAY"

	// EntityCompound references a compound identifier.
	EntityCompound EntityKind = "COMPOUND"
)

// EntityReference points at a specific domain object for click-through
// correlation between a claim and its evidence.
type EntityReference struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// ClickFunc is the injected callback invoked when an entity span is
// activated. Typical implementations highlight a matching node in the
// visualization or open a detail popup keyed by the ID.
type ClickFunc func(kind EntityKind, id string)

// EntityDetail is the domain data a resolver returns for a reference.
type EntityDetail struct {
	Reference  EntityReference `json:"reference"`
	Expression float64         `json:"expression,omitempty"`
	PValue     float64         `json:"p_value,omitempty"`
	Status     string          `json:"status,omitempty"`
	Source     string          `json:"source,omitempty"`
}

// Resolver looks an entity reference up in the live analysis data.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(kind EntityKind, id string) (EntityDetail, bool)
}

// SpanKind discriminates inline span variants.
type SpanKind string

const (
	// SpanText is plain text.
	SpanText SpanKind = "text"

	// SpanBold is emphasized text (**...** inside a line).
	SpanBold SpanKind = "bold"

	// SpanEntity is a clickable entity reference, labeled with the ID.
	SpanEntity SpanKind = "entity"
)

// Span is one inline fragment of a rendered line.
type Span struct {
	Kind   SpanKind         `json:"kind"`
	Text   string           `json:"text"`
	Entity *EntityReference `json:"entity,omitempty"`
}

// Activate invokes the click callback if this span is an entity span.
// Exactly one callback invocation per activation; non-entity spans and
// nil callbacks are no-ops.
func (s Span) Activate(onClick ClickFunc) {
	if s.Kind != SpanEntity || s.Entity == nil || onClick == nil {
		return
	}
	onClick(s.Entity.Kind, s.Entity.ID)
}

// BlockKind discriminates block-level variants.
type BlockKind string

const (
	// BlockParagraph is a run of consecutive plain lines.
	BlockParagraph BlockKind = "paragraph"

	// BlockSubheading is a "### " line.
	BlockSubheading BlockKind = "subheading"

	// BlockSubSubheading is a line fully wrapped in **...**.
	BlockSubSubheading BlockKind = "subsubheading"

	// BlockEmphasis is a line fully wrapped in *...*.
	BlockEmphasis BlockKind = "emphasis"

	// BlockLineBreak is an empty line.
	BlockLineBreak BlockKind = "linebreak"

	// BlockList is a run of consecutive list items of the same kind.
	BlockList BlockKind = "list"
)

// Block is one block-level element of rendered agent text.
type Block struct {
	Kind    BlockKind `json:"kind"`
	Spans   []Span    `json:"spans,omitempty"`
	Items   [][]Span  `json:"items,omitempty"`
	Ordered bool      `json:"ordered,omitempty"`
}

var (
	entityTagRe   = regexp.MustCompile(`\[\[(GENE|PATHWAY|COMPOUND):([^\[\]]+)\]\]`)
	boldSpanRe    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	orderedItemRe = regexp.MustCompile(`^\d+[.)]\s+`)
)

// Render parses agent text into blocks of inline spans.
//
// Description:
//
//	Line-oriented, applied in precedence order:
//
//	 1. List detection: "- " / "* " lines are unordered items, "N. " /
//	    "N) " lines are ordered items. Consecutive lines of the same
//	    kind merge into one list; a kind switch or a non-list line
//	    flushes the current list.
//	 2. Structure lines: "### " subheading, a line fully wrapped in
//	    "**...**" sub-subheading, fully wrapped in "*...*" emphasis,
//	    an empty line a line break. Consecutive plain lines accumulate
//	    into a single paragraph, so tag-free, marker-free text comes
//	    back unchanged, split only on blank lines.
//	 3. Within any line, "[[KIND:ID]]" becomes an entity span labeled
//	    ID and "**bold**" becomes a bold span.
//
// Outputs:
//   - []Block: The parsed blocks, in input order. Empty input yields nil.
func Render(text string) []Block {
	var (
		blocks    []Block
		list      *Block
		paragraph []string
	)

	flushList := func() {
		if list != nil {
			blocks = append(blocks, *list)
			list = nil
		}
	}
	flushParagraph := func() {
		if len(paragraph) > 0 {
			blocks = append(blocks, Block{
				Kind:  BlockParagraph,
				Spans: parseInline(strings.Join(paragraph, "\n")),
			})
			paragraph = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, " \t")

		// 1. List items take precedence over everything else.
		if item, ordered, ok := listItem(trimmed); ok {
			flushParagraph()
			if list != nil && list.Ordered != ordered {
				flushList()
			}
			if list == nil {
				list = &Block{Kind: BlockList, Ordered: ordered}
			}
			list.Items = append(list.Items, parseInline(item))
			continue
		}
		flushList()

		// 2. Structure lines.
		switch {
		case trimmed == "":
			flushParagraph()
			blocks = append(blocks, Block{Kind: BlockLineBreak})
		case strings.HasPrefix(trimmed, "### "):
			flushParagraph()
			blocks = append(blocks, Block{
				Kind:  BlockSubheading,
				Spans: parseInline(strings.TrimPrefix(trimmed, "### ")),
			})
		case fullyWrapped(trimmed, "**"):
			flushParagraph()
			blocks = append(blocks, Block{
				Kind:  BlockSubSubheading,
				Spans: parseInline(trimmed[2 : len(trimmed)-2]),
			})
		case fullyWrapped(trimmed, "*"):
			flushParagraph()
			blocks = append(blocks, Block{
				Kind:  BlockEmphasis,
				Spans: parseInline(trimmed[1 : len(trimmed)-1]),
			})
		default:
			paragraph = append(paragraph, trimmed)
		}
	}
	flushList()
	flushParagraph()
	return blocks
}

// RenderPlainText flattens rendered blocks back to display text with the
// entity tags replaced by their bare IDs. Used by text-only surfaces
// (CLI, logs) that cannot host clickable spans.
func RenderPlainText(text string) string {
	var sb strings.Builder
	for i, block := range Render(text) {
		if i > 0 {
			sb.WriteByte('\n')
		}
		switch block.Kind {
		case BlockList:
			for j, item := range block.Items {
				if j > 0 {
					sb.WriteByte('\n')
				}
				if block.Ordered {
					sb.WriteString("  ")
				} else {
					sb.WriteString("  - ")
				}
				writeSpans(&sb, item)
			}
		case BlockLineBreak:
			// the joining newline already stands in for the break
		default:
			writeSpans(&sb, block.Spans)
		}
	}
	return sb.String()
}

func writeSpans(sb *strings.Builder, spans []Span) {
	for _, s := range spans {
		sb.WriteString(s.Text)
	}
}

// listItem reports whether a line is a list item, returning the item
// body and whether the list is ordered.
func listItem(line string) (string, bool, bool) {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return line[2:], false, true
	}
	if m := orderedItemRe.FindString(line); m != "" {
		return line[len(m):], true, true
	}
	return "", false, false
}

// fullyWrapped reports whether a line is entirely enclosed by the marker
// with non-empty content between (e.g., "**Heading**" but not "**a** b").
func fullyWrapped(line, marker string) bool {
	if len(line) <= 2*len(marker) {
		return false
	}
	if !strings.HasPrefix(line, marker) || !strings.HasSuffix(line, marker) {
		return false
	}
	inner := line[len(marker) : len(line)-len(marker)]
	return !strings.Contains(inner, marker)
}

// parseInline splits a line into text, bold, and entity spans. Entity
// tags are matched first; bold spans are honored in the remaining text.
func parseInline(line string) []Span {
	var spans []Span
	rest := line
	for {
		loc := entityTagRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			spans = append(spans, parseBold(rest)...)
			break
		}
		spans = append(spans, parseBold(rest[:loc[0]])...)
		kind := EntityKind(rest[loc[2]:loc[3]])
		id := rest[loc[4]:loc[5]]
		spans = append(spans, Span{
			Kind:   SpanEntity,
			Text:   id,
			Entity: &EntityReference{Kind: kind, ID: id},
		})
		rest = rest[loc[1]:]
	}
	return spans
}

// parseBold splits text into plain and bold spans.
func parseBold(text string) []Span {
	var spans []Span
	rest := text
	for {
		loc := boldSpanRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			if rest != "" {
				spans = append(spans, Span{Kind: SpanText, Text: rest})
			}
			break
		}
		if before := rest[:loc[0]]; before != "" {
			spans = append(spans, Span{Kind: SpanText, Text: before})
		}
		spans = append(spans, Span{Kind: SpanBold, Text: rest[loc[2]:loc[3]]})
		rest = rest[loc[1]:]
	}
	return spans
}

// References collects every entity reference mentioned in the text, in
// order of appearance, without duplicates.
func References(text string) []EntityReference {
	var (
		out  []EntityReference
		seen = map[EntityReference]bool{}
	)
	for _, m := range entityTagRe.FindAllStringSubmatch(text, -1) {
		ref := EntityReference{Kind: EntityKind(m[1]), ID: m[2]}
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}
