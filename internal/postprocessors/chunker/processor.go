// Package chunker provides a heading-aware packing chunker.
//
// Documents are split into sections at markdown heading boundaries, then
// packed into chunks sized for a model context window. Sections that fit
// the target are merged into a running buffer; oversized sections fall back
// to paragraph packing, and oversized paragraphs to sentence packing, so a
// cut never splits a sentence unless a single sentence alone exceeds the
// target. A trailing overlap is carried from each flushed chunk into the
// next buffer to preserve cross-chunk context.
package chunker

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/dalil/internal/core/domain"
)

// DefaultTargetTokens is the default estimated token budget per chunk.
const DefaultTargetTokens = 500

// DefaultOverlapTokens is the default estimated token overlap carried
// between consecutive chunks.
const DefaultOverlapTokens = 50

// wordsPerToken converts between word counts and estimated tokens:
// tokens = words / wordsPerToken.
const wordsPerToken = 0.75

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// Processor splits document content into heading-aware overlapping chunks.
// It implements the PostProcessor interface.
type Processor struct {
	targetTokens  int
	overlapTokens int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithTargetTokens sets the estimated token budget per chunk.
func WithTargetTokens(target int) Option {
	return func(p *Processor) {
		if target > 0 {
			p.targetTokens = target
		}
	}
}

// WithOverlapTokens sets the estimated token overlap between chunks.
func WithOverlapTokens(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlapTokens = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		targetTokens:  DefaultTargetTokens,
		overlapTokens: DefaultOverlapTokens,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure overlap doesn't exceed the chunk budget
	if p.overlapTokens >= p.targetTokens {
		p.overlapTokens = p.targetTokens / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// estimateTokens converts a word count into an estimated token count.
func estimateTokens(words int) float64 {
	return float64(words) / wordsPerToken
}

// overlapWords is the number of trailing words carried into the next buffer.
func (p *Processor) overlapWords() int {
	return int(float64(p.overlapTokens) * wordsPerToken)
}

// maxUnitWords is the largest unit the packer accepts before falling back
// to a finer split.
func (p *Processor) maxUnitWords() int {
	return int(float64(p.targetTokens) * wordsPerToken)
}

// section is a heading-delimited stretch of the document. Content before
// the first heading belongs to a section with an empty heading.
type section struct {
	heading string
	body    string
}

// unit is an indivisible packing element: a whole section, a paragraph, or
// a group of sentences, depending on how far splitting had to recurse.
type unit struct {
	text  string
	words int
}

// segment is a buffered unit tagged with the heading it came from, so the
// flushed chunk can be labelled with the heading that dominates it by
// character coverage rather than whichever heading happened to be last.
type segment struct {
	heading string
	text    string
	words   int
}

// Process splits the document content into chunks.
// Input chunks are ignored; this processor creates new chunks from document content.
func (p *Processor) Process(_ context.Context, doc *domain.Document, _ []domain.Chunk) ([]domain.Chunk, error) {
	if strings.TrimSpace(doc.Content) == "" {
		// Empty content produces no chunks
		return nil, nil
	}

	var (
		chunks   []domain.Chunk
		buf      []segment
		bufWords int
		fresh    bool // buffer holds content beyond the carried overlap
	)

	flush := func() {
		if !fresh {
			return
		}

		heading := dominantHeading(buf)
		content := joinSegments(buf)

		chunks = append(chunks, domain.Chunk{
			ID:             uuid.New().String(),
			DocumentID:     doc.ID,
			Index:          len(chunks),
			Content:        content,
			HeadingContext: heading,
		})

		buf = nil
		bufWords = 0
		fresh = false

		// Carry the trailing overlap into the next buffer.
		if overlap := tailWords(content, p.overlapWords()); overlap != "" {
			words := len(strings.Fields(overlap))
			buf = append(buf, segment{heading: heading, text: overlap, words: words})
			bufWords = words
		}
	}

	for _, sec := range splitSections(doc.Content) {
		for _, u := range p.sectionUnits(sec) {
			if fresh && estimateTokens(bufWords+u.words) > float64(p.targetTokens) {
				flush()
			}
			buf = append(buf, segment{heading: sec.heading, text: u.text, words: u.words})
			bufWords += u.words
			fresh = true
		}
	}

	flush()

	return chunks, nil
}

// sectionUnits breaks a section into packable units. A section that fits
// the budget is one unit; otherwise it splits into paragraphs, and a
// paragraph that still exceeds the budget splits into sentence groups.
func (p *Processor) sectionUnits(sec section) []unit {
	words := len(strings.Fields(sec.body))
	if words == 0 {
		return nil
	}
	if words <= p.maxUnitWords() {
		return []unit{{text: sec.body, words: words}}
	}

	var units []unit
	for _, para := range splitParagraphs(sec.body) {
		paraWords := len(strings.Fields(para))
		if paraWords == 0 {
			continue
		}
		if paraWords <= p.maxUnitWords() {
			units = append(units, unit{text: para, words: paraWords})
			continue
		}
		units = append(units, p.packSentences(para)...)
	}
	return units
}

// packSentences splits a paragraph into sentences and greedily groups them
// under the budget. A single sentence over the budget becomes its own unit;
// there is nothing finer to split into.
func (p *Processor) packSentences(para string) []unit {
	var (
		units    []unit
		group    []string
		grpWords int
	)

	closeGroup := func() {
		if len(group) == 0 {
			return
		}
		units = append(units, unit{text: strings.Join(group, " "), words: grpWords})
		group = nil
		grpWords = 0
	}

	for _, sentence := range splitSentences(para) {
		words := len(strings.Fields(sentence))
		if words == 0 {
			continue
		}
		if grpWords > 0 && grpWords+words > p.maxUnitWords() {
			closeGroup()
		}
		group = append(group, sentence)
		grpWords += words
	}
	closeGroup()

	return units
}

// splitSections splits content into heading-delimited sections. The heading
// line itself stays in the section body so chunk concatenation loses no
// content; a document with no headings is one section with an empty label.
func splitSections(content string) []section {
	var (
		sections []section
		heading  string
		body     []string
	)

	closeSection := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" {
			sections = append(sections, section{heading: heading, body: text})
		}
		body = nil
	}

	for _, line := range strings.Split(content, "\n") {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			closeSection()
			heading = strings.TrimSpace(m[2])
		}
		body = append(body, line)
	}
	closeSection()

	return sections
}

// splitParagraphs splits a section body at blank lines.
func splitParagraphs(body string) []string {
	var (
		paras   []string
		current []string
	)

	closePara := func() {
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			paras = append(paras, text)
		}
		current = nil
	}

	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			closePara()
			continue
		}
		current = append(current, line)
	}
	closePara()

	return paras
}

// splitSentences splits a paragraph at terminal punctuation boundaries.
// A paragraph without terminal punctuation is one sentence.
func splitSentences(para string) []string {
	var (
		sentences []string
		current   strings.Builder
	)

	runes := []rune(para)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Boundary only when followed by whitespace or end of input,
		// so "v1.2" and "e.g." stay intact mid-word.
		if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// dominantHeading picks the heading covering the most characters of the
// buffer. Ties go to the heading seen earliest.
func dominantHeading(segs []segment) string {
	coverage := make(map[string]int)
	var order []string

	for _, seg := range segs {
		if _, seen := coverage[seg.heading]; !seen {
			order = append(order, seg.heading)
		}
		coverage[seg.heading] += len(seg.text)
	}

	var best string
	bestChars := -1
	for _, h := range order {
		if coverage[h] > bestChars {
			best = h
			bestChars = coverage[h]
		}
	}
	return best
}

// joinSegments renders the buffer as chunk content.
func joinSegments(segs []segment) string {
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		parts = append(parts, seg.text)
	}
	return strings.Join(parts, "\n\n")
}

// tailWords returns the last n words of text, or "" when n is zero.
func tailWords(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}
