// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package framing

import (
	"net/http"
	"sort"
)

// Headers is the header-block representation used on the wire. It has
// the same shape as net/http.Header; callers at the session layer convert
// to and from http.Header with ToHTTPHeader / FromHTTPHeader.
type Headers map[string][]string

func (h Headers) sortedNames() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromHTTPHeader converts a net/http.Header into the wire representation.
func FromHTTPHeader(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ToHTTPHeader converts a wire header block into a net/http.Header.
func ToHTTPHeader(h Headers) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
