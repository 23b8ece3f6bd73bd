package main

import "errors"

var (
	// ErrInvalidSelector is returned by Document.Query for patterns that do not compile.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrNoParent is returned when an element has no parent to append to.
	ErrNoParent = errors.New("element has no parent")
	// ErrDetached is returned when an element belongs to another document.
	ErrDetached = errors.New("element does not belong to this document")
)

// Document is the slice of the DOM the pipeline needs. Implementations exist
// for a live Chrome page and for an in-memory parsed HTML tree.
type Document interface {
	// Query returns the first element matching selector, or nil when nothing
	// matches. Absence is not an error.
	Query(selector string) (Element, error)
	// Lang returns the lang attribute of the root element ("" when unset).
	Lang() (string, error)
	// BodyText returns the text content of the body.
	BodyText() (string, error)
	// CreateElement creates a detached element with the given class.
	CreateElement(tag, class string) (Element, error)
}

// Element is a handle to a node in a Document.
type Element interface {
	Text() (string, error)
	SetText(text string) error
	SetAttribute(name, value string) error
	Parent() (Element, error)
	AppendChild(child Element) error
	Remove() error
}
