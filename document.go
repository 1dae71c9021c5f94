// SPDX-License-Identifier: GPL-3.0-or-later

package esi

// NodeKind is the kind of a [Node].
type NodeKind int

const (
	// NodeLiteral is a verbatim run of source bytes.
	NodeLiteral NodeKind = iota

	// NodeInclude is an include directive.
	NodeInclude
)

// Node is an element of a [Document].
type Node struct {
	// Kind is the node kind.
	Kind NodeKind

	// Offset is the byte offset of the node in the source.
	Offset int

	// Text contains the source bytes of a [NodeLiteral]. It aliases the
	// source passed to the scanner.
	Text []byte

	// Include is the directive of a [NodeInclude].
	Include *Include
}

// Include is an include directive:
//
//	<esi:include src="URL" alt="URL" onerror="continue"/>
type Include struct {
	// Src is the fragment URL.
	Src string

	// Alt is the fallback URL, or empty.
	Alt string

	// ContinueOnError is true with onerror="continue".
	ContinueOnError bool
}

// Document is a scanned source document.
type Document struct {
	Nodes []Node
}

// Includes returns the number of include directives.
func (d *Document) Includes() (count int) {
	for _, node := range d.Nodes {
		if node.Kind == NodeInclude {
			count++
		}
	}
	return
}
