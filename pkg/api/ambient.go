package api

import (
	"maps"
	"net/http"
	"net/url"
)

// Page describes the page being prepared.
type Page struct {
	Pathname string     `json:"pathname"`
	Query    url.Values `json:"query,omitempty"`
	Path     string     `json:"path"`

	// Request is set on the server tier only and is never serialized.
	Request *http.Request `json:"-"`
}

// Ambient is the context available to payload derivations and handlers.
type Ambient struct {
	Page Page

	// PriorProps holds page properties computed before fetching, such as
	// those returned by a page's own initializer.
	PriorProps map[string]any
}

// PageFromRequest derives a Page from an incoming request.
func PageFromRequest(r *http.Request) Page {
	return Page{
		Pathname: r.URL.Path,
		Query:    r.URL.Query(),
		Path:     r.URL.RequestURI(),
		Request:  r,
	}
}

// WithPriorProps returns a copy of a with PriorProps replaced by a copy of
// props.
func (a Ambient) WithPriorProps(props map[string]any) Ambient {
	a.PriorProps = maps.Clone(props)
	return a
}
