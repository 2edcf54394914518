// Package sourcemap generates version 3 source maps for text assembled from
// pieces of one or more source files.
package sourcemap

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

type segment struct {
	genCol  int
	src     int
	srcLine int
	srcCol  int
}

// Map is a v3 source map under construction.
type Map struct {
	file     string
	sources  []string
	contents []string
	index    map[string]int
	lines    [][]segment
}

// New starts a map for the generated file name (usually a base name).
func New(file string) *Map {
	return &Map{file: file, index: make(map[string]int)}
}

// AddSource registers a source and returns its index. Registering the same
// name twice returns the first index.
func (m *Map) AddSource(name string, content []byte) int {
	if i, ok := m.index[name]; ok {
		return i
	}
	i := len(m.sources)
	m.index[name] = i
	m.sources = append(m.sources, name)
	m.contents = append(m.contents, string(content))
	return i
}

// Add maps a generated position to a source position. All values are zero
// based; columns are in UTF-16 code units.
func (m *Map) Add(genLine, genCol, src, srcLine, srcCol int) {
	for len(m.lines) <= genLine {
		m.lines = append(m.lines, nil)
	}
	m.lines[genLine] = append(m.lines[genLine], segment{genCol, src, srcLine, srcCol})
}

// Sources returns the registered source names in index order.
func (m *Map) Sources() []string {
	return append([]string(nil), m.sources...)
}

type document struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// MarshalJSON encodes the map.
func (m *Map) MarshalJSON() ([]byte, error) {
	sources := m.sources
	if sources == nil {
		sources = []string{}
	}
	contents := m.contents
	if contents == nil {
		contents = []string{}
	}
	return json.Marshal(document{
		Version:        3,
		File:           m.file,
		Sources:        sources,
		SourcesContent: contents,
		Names:          []string{},
		Mappings:       m.mappings(),
	})
}

func (m *Map) mappings() string {
	var b strings.Builder
	var prevSrc, prevLine, prevCol int
	for i, line := range m.lines {
		if i > 0 {
			b.WriteByte(';')
		}
		prevGen := 0
		for j, s := range line {
			if j > 0 {
				b.WriteByte(',')
			}
			writeVLQ(&b, s.genCol-prevGen)
			writeVLQ(&b, s.src-prevSrc)
			writeVLQ(&b, s.srcLine-prevLine)
			writeVLQ(&b, s.srcCol-prevCol)
			prevGen, prevSrc, prevLine, prevCol = s.genCol, s.src, s.srcLine, s.srcCol
		}
	}
	return b.String()
}

func writeVLQ(b *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & 31
		u >>= 5
		if u > 0 {
			digit |= 32
		}
		b.WriteByte(base64Chars[digit])
		if u == 0 {
			return
		}
	}
}

// Position is a zero-based line/column pair. Columns are UTF-16 code units.
type Position struct {
	Line int
	Col  int
}

// Advance moves p past text.
func (p Position) Advance(text []byte) Position {
	for len(text) > 0 {
		r, size := utf8.DecodeRune(text)
		text = text[size:]
		if r == '\n' {
			p.Line++
			p.Col = 0
			continue
		}
		p.Col += utf16.RuneLen(r)
	}
	return p
}

// Writer accumulates generated text and records where each piece came from.
type Writer struct {
	buf bytes.Buffer
	pos Position
	m   *Map
}

// NewWriter returns a Writer that records mappings into m.
func NewWriter(m *Map) *Writer {
	return &Writer{m: m}
}

// Write appends text that starts at from in source src.
func (w *Writer) Write(text []byte, src int, from Position) {
	if len(text) == 0 {
		return
	}
	w.m.Add(w.pos.Line, w.pos.Col, src, from.Line, from.Col)
	w.buf.Write(text)
	w.pos = w.pos.Advance(text)
}

// WriteString appends generated text attributed to the source position from.
func (w *Writer) WriteString(text string, src int, from Position) {
	w.Write([]byte(text), src, from)
}

// Bytes returns the generated text.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Map returns the underlying map.
func (w *Writer) Map() *Map {
	return w.m
}
