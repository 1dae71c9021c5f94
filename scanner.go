// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"bytes"
	"io"

	"golang.org/x/net/html"
)

// Scanner lazily splits a source document into [Node] values.
//
// Besides include directives, the scanner understands
//
//	<esi:comment text="..."/>     removed from the output
//	<esi:remove>...</esi:remove>  removed with its content
//	<!--esi ... -->               markers removed, content scanned
//
// Construct using [NewScanner].
type Scanner struct {
	closeTag  []byte // "</ns:"
	comments  []int  // offsets of the open <!--ns markers
	escaped   bool
	namespace string
	openTag   []byte // "<ns:"
	commentOp []byte // "<!--ns"
	err       error
	pos       int
	src       []byte
}

// NewScanner returns a [*Scanner] over src recognizing directives in the
// given namespace. When escaped is true, attribute values are HTML-unescaped.
func NewScanner(src []byte, namespace string, escaped bool) *Scanner {
	return &Scanner{
		closeTag:  []byte("</" + namespace + ":"),
		commentOp: []byte("<!--" + namespace),
		escaped:   escaped,
		namespace: namespace,
		openTag:   []byte("<" + namespace + ":"),
		src:       src,
	}
}

// Parse scans the whole src and returns the resulting [*Document].
func Parse(src []byte, namespace string, escaped bool) (*Document, error) {
	doc := &Document{}
	scanner := NewScanner(src, namespace, escaped)
	for {
		node, err := scanner.Next()
		if err == io.EOF {
			return doc, nil
		}
		if err != nil {
			return nil, err
		}
		doc.Nodes = append(doc.Nodes, node)
	}
}

var commentClose = []byte("-->")

// Next returns the next [Node], [io.EOF] at the end of the source or a
// [*ScanError] for a malformed directive. After an error, the scanner
// keeps returning the same error.
func (s *Scanner) Next() (Node, error) {
	if s.err != nil {
		return Node{}, s.err
	}
	for {
		if s.pos >= len(s.src) {
			if len(s.comments) > 0 {
				return Node{}, s.fail(s.comments[len(s.comments)-1], "unterminated <!--"+s.namespace+" block")
			}
			return Node{}, io.EOF
		}

		// Emit the literal text before the next marker.
		next := s.nextMarker()
		if next > s.pos {
			node := Node{Kind: NodeLiteral, Offset: s.pos, Text: s.src[s.pos:next]}
			s.pos = next
			return node, nil
		}

		rest := s.src[s.pos:]
		switch {
		case len(s.comments) > 0 && bytes.HasPrefix(rest, commentClose):
			s.comments = s.comments[:len(s.comments)-1]
			s.pos += len(commentClose)

		case s.isCommentOpen(rest):
			s.comments = append(s.comments, s.pos)
			s.pos += len(s.commentOp)

		case bytes.HasPrefix(rest, s.closeTag):
			return Node{}, s.fail(s.pos, "unexpected closing tag")

		default:
			node, emit, err := s.element()
			if err != nil {
				return Node{}, err
			}
			if emit {
				return node, nil
			}
		}
	}
}

// nextMarker returns the offset of the next marker at or after s.pos,
// or the length of the source when there is none.
func (s *Scanner) nextMarker() int {
	end := len(s.src)
	if len(s.comments) > 0 {
		if idx := bytes.Index(s.src[s.pos:], commentClose); idx >= 0 {
			end = s.pos + idx
		}
	}
	for from := s.pos; from < end; {
		idx := bytes.IndexByte(s.src[from:end], '<')
		if idx < 0 {
			break
		}
		at := s.src[from+idx:]
		if bytes.HasPrefix(at, s.openTag) || bytes.HasPrefix(at, s.closeTag) || s.isCommentOpen(at) {
			return from + idx
		}
		from += idx + 1
	}
	return end
}

// isCommentOpen reports whether data starts with "<!--ns" followed by
// whitespace. Other comments, e.g. "<!--esinclude-->", are literal text.
func (s *Scanner) isCommentOpen(data []byte) bool {
	return bytes.HasPrefix(data, s.commentOp) && len(data) > len(s.commentOp) && isSpace(data[len(s.commentOp)])
}

// element parses the element starting at s.pos with "<ns:". It returns
// emit=false for elements that produce no node.
func (s *Scanner) element() (Node, bool, error) {
	start := s.pos
	s.pos += len(s.openTag)
	name := s.name()
	if name == "" {
		return Node{}, false, s.fail(start, "missing element name")
	}
	attrs, selfClosing, err := s.attributes(start)
	if err != nil {
		return Node{}, false, err
	}

	switch name {
	case "include":
		src, found := attrs["src"]
		if !found || src == "" {
			return Node{}, false, s.fail(start, "include without src")
		}
		if !selfClosing {
			if err := s.expectClose(start, name); err != nil {
				return Node{}, false, err
			}
		}
		include := &Include{
			Src:             src,
			Alt:             attrs["alt"],
			ContinueOnError: attrs["onerror"] == "continue",
		}
		return Node{Kind: NodeInclude, Offset: start, Include: include}, true, nil

	case "comment":
		if !selfClosing {
			if err := s.expectClose(start, name); err != nil {
				return Node{}, false, err
			}
		}
		return Node{}, false, nil

	case "remove":
		if selfClosing {
			return Node{}, false, nil
		}
		closing := []byte(string(s.closeTag) + "remove>")
		idx := bytes.Index(s.src[s.pos:], closing)
		if idx < 0 {
			return Node{}, false, s.fail(start, "unterminated remove block")
		}
		s.pos += idx + len(closing)
		return Node{}, false, nil

	default:
		return Node{}, false, s.fail(start, "unsupported element "+s.namespace+":"+name)
	}
}

// expectClose consumes optional whitespace and then "</ns:name>".
func (s *Scanner) expectClose(start int, name string) error {
	s.skipSpaces()
	closing := []byte(string(s.closeTag) + name + ">")
	if !bytes.HasPrefix(s.src[s.pos:], closing) {
		return s.fail(start, "missing </"+s.namespace+":"+name+">")
	}
	s.pos += len(closing)
	return nil
}

// attributes parses attributes up to and including "/>" or ">".
func (s *Scanner) attributes(start int) (map[string]string, bool, error) {
	attrs := map[string]string{}
	for {
		s.skipSpaces()
		rest := s.src[s.pos:]
		switch {
		case len(rest) <= 0:
			return nil, false, s.fail(start, "unterminated tag")
		case bytes.HasPrefix(rest, []byte("/>")):
			s.pos += 2
			return attrs, true, nil
		case rest[0] == '>':
			s.pos++
			return attrs, false, nil
		}

		key := s.name()
		if key == "" {
			return nil, false, s.fail(start, "bad attribute syntax")
		}
		s.skipSpaces()
		if s.pos >= len(s.src) {
			return nil, false, s.fail(start, "unterminated tag")
		}
		if s.src[s.pos] != '=' {
			return nil, false, s.fail(start, "attribute "+key+" without value")
		}
		s.pos++
		s.skipSpaces()
		if s.pos >= len(s.src) {
			return nil, false, s.fail(start, "unterminated tag")
		}
		quote := s.src[s.pos]
		if quote != '"' && quote != '\'' {
			return nil, false, s.fail(start, "unquoted value for attribute "+key)
		}
		end := bytes.IndexByte(s.src[s.pos+1:], quote)
		if end < 0 {
			return nil, false, s.fail(start, "unterminated value for attribute "+key)
		}
		value := string(s.src[s.pos+1 : s.pos+1+end])
		s.pos += end + 2
		if s.escaped {
			value = html.UnescapeString(value)
		}
		attrs[key] = value
	}
}

func (s *Scanner) name() string {
	begin := s.pos
	for s.pos < len(s.src) && isNameByte(s.src[s.pos]) {
		s.pos++
	}
	return string(s.src[begin:s.pos])
}

func (s *Scanner) skipSpaces() {
	for s.pos < len(s.src) && isSpace(s.src[s.pos]) {
		s.pos++
	}
}

func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\r', '\n', '\f':
		return true
	default:
		return false
	}
}

// fail records a sticky error by moving past the end of the source.
func (s *Scanner) fail(offset int, reason string) error {
	err := &ScanError{Offset: offset, Reason: reason}
	s.pos = len(s.src)
	s.comments = nil
	s.err = err
	return err
}

func isNameByte(ch byte) bool {
	return isNameRune(rune(ch)) || ch == ':'
}
