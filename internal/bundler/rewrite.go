package bundler

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// StarPlaceholderPrefix names the bindings the transpiler emits for
// "export * from" directives whose names are resolved at bundle time.
const StarPlaceholderPrefix = "$$star_"

// EmptyMarkerHash is the dependency hash the transpiler writes before the
// compiler knows the dependency's content.
const EmptyMarkerHash = "000000"

var (
	// #<url>@<6 hex> directly before the closing quote of an import specifier.
	// The URL match is greedy so URLs containing '@' keep their version suffix.
	depMarkerPattern = regexp.MustCompile(`#([^"'\s#]+)@([0-9a-fA-F]{6})(["'])`)
	starDeclPattern  = regexp.MustCompile(`export const \$\$star_(\d+)\b`)
)

type segmentKind int

const (
	segmentText segmentKind = iota
	segmentDepMarker
	segmentStarDecl
)

type segment struct {
	kind  segmentKind
	text  string
	url   string
	hash  string
	index int
}

// artifactDoc is transpiler output split into literal text and the
// placeholder nodes the compiler fills in.
type artifactDoc struct {
	segments []segment
}

type span struct {
	start, end int
	seg        segment
	tail       string
}

func parseArtifact(code string) *artifactDoc {
	var spans []span
	for _, m := range depMarkerPattern.FindAllStringSubmatchIndex(code, -1) {
		spans = append(spans, span{
			start: m[0],
			end:   m[1],
			seg:   segment{kind: segmentDepMarker, url: code[m[2]:m[3]], hash: code[m[4]:m[5]]},
			tail:  code[m[6]:m[7]],
		})
	}
	for _, m := range starDeclPattern.FindAllStringSubmatchIndex(code, -1) {
		n, _ := strconv.Atoi(code[m[2]:m[3]])
		spans = append(spans, span{start: m[0], end: m[1], seg: segment{kind: segmentStarDecl, index: n}})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	doc := &artifactDoc{}
	pos := 0
	for _, s := range spans {
		if s.start < pos {
			continue
		}
		if s.start > pos {
			doc.segments = append(doc.segments, segment{kind: segmentText, text: code[pos:s.start]})
		}
		doc.segments = append(doc.segments, s.seg)
		if s.tail != "" {
			doc.segments = append(doc.segments, segment{kind: segmentText, text: s.tail})
		}
		pos = s.end
	}
	if pos < len(code) {
		doc.segments = append(doc.segments, segment{kind: segmentText, text: code[pos:]})
	}
	return doc
}

// depURLs returns the distinct dependency URLs referenced by markers.
func (d *artifactDoc) depURLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, s := range d.segments {
		if s.kind != segmentDepMarker {
			continue
		}
		if _, ok := seen[s.url]; ok {
			continue
		}
		seen[s.url] = struct{}{}
		urls = append(urls, s.url)
	}
	return urls
}

// starIndexes returns the placeholder indexes present in the document.
func (d *artifactDoc) starIndexes() []int {
	var idx []int
	for _, s := range d.segments {
		if s.kind == segmentStarDecl {
			idx = append(idx, s.index)
		}
	}
	return idx
}

// render writes the document back out. Marker hashes come from hashes keyed by
// dependency URL, star declarations from names keyed by placeholder index.
func (d *artifactDoc) render(hashes map[string]string, names map[int][]string) (string, error) {
	var b strings.Builder
	for _, s := range d.segments {
		switch s.kind {
		case segmentText:
			b.WriteString(s.text)
		case segmentDepMarker:
			h := s.hash
			if v, ok := hashes[s.url]; ok {
				h = v
			}
			b.WriteString("#")
			b.WriteString(s.url)
			b.WriteString("@")
			b.WriteString(h)
		case segmentStarDecl:
			list, ok := names[s.index]
			if !ok {
				return "", fmt.Errorf("%w: placeholder %s%d has no export names", ErrExportResolution, StarPlaceholderPrefix, s.index)
			}
			b.WriteString("export const {")
			b.WriteString(strings.Join(list, ", "))
			b.WriteString("}")
		}
	}
	return b.String(), nil
}
