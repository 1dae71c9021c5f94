// SPDX-License-Identifier: GPL-3.0-or-later

package esi

import (
	"github.com/bassosimone/esi/edge"
)

// fragmentState is the state of a fragment during a processing call.
type fragmentState int

const (
	fragmentUnresolved fragmentState = iota
	fragmentPending
	fragmentResolved
	fragmentFailed
)

func (fs fragmentState) String() string {
	switch fs {
	case fragmentPending:
		return "pending"
	case fragmentResolved:
		return "resolved"
	case fragmentFailed:
		return "failed"
	default:
		return "unresolved"
	}
}

// fragment tracks the outcome of an include directive.
type fragment struct {
	// depth is the nesting depth of the document containing the include.
	depth int

	// err is the failure cause when state is fragmentFailed.
	err error

	// handle is the in-flight request when state is fragmentPending.
	handle *edge.PendingRequest

	// include is the directive.
	include *Include

	// index is the node index of the directive.
	index int

	// request is the request of the latest dispatch.
	request *edge.Request

	// response is the response when state is fragmentResolved.
	response *edge.Response

	// state is the current state.
	state fragmentState

	// triedAlt is true once the fallback URL has been dispatched.
	triedAlt bool

	// url is the URL of the latest dispatch.
	url string
}

func (f *fragment) setPending(handle *edge.PendingRequest) {
	f.state, f.handle, f.response, f.err = fragmentPending, handle, nil, nil
}

func (f *fragment) setResolved(resp *edge.Response) {
	f.state, f.handle, f.response, f.err = fragmentResolved, nil, resp, nil
}

func (f *fragment) setFailed(kind, cause error) {
	err := &FragmentError{Kind: kind, URL: f.url, Err: cause}
	f.state, f.handle, f.response, f.err = fragmentFailed, nil, nil, err
}

// fragmentTable maps the node index of each include to its fragment.
type fragmentTable map[int]*fragment

// newFragmentTable returns a table with an unresolved fragment for
// each include of doc.
func newFragmentTable(doc *Document, depth int) fragmentTable {
	table := fragmentTable{}
	for idx, node := range doc.Nodes {
		if node.Kind == NodeInclude {
			table[idx] = &fragment{depth: depth, include: node.Include, index: idx}
		}
	}
	return table
}

// inOrder returns the fragments sorted by node index.
func (t fragmentTable) inOrder(doc *Document) []*fragment {
	out := make([]*fragment, 0, len(t))
	for idx := range doc.Nodes {
		if frag, found := t[idx]; found {
			out = append(out, frag)
		}
	}
	return out
}
