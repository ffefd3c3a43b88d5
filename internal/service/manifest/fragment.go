package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// fieldRoot is the root element of a field descriptor fragment.
const fieldRoot = "CustomField"

var (
	// ErrFragmentMissing is returned when a changed field has no descriptor file in the source tree.
	ErrFragmentMissing = errors.New("field descriptor not found")

	// errUnexpectedRoot is returned when a fragment is not a field descriptor.
	errUnexpectedRoot = errors.New("unexpected root element")
	// errNoRoot is returned for documents without any element.
	errNoRoot = errors.New("no root element")
	// errUnclosedRoot is returned when the document ends before the root closes.
	errUnclosedRoot = errors.New("root element is not closed")
)

// FragmentParseError reports a field descriptor that is not well-formed.
// It aborts the run: a broken field must block the deployment.
type FragmentParseError struct {
	// Path is the descriptor path relative to the source root.
	Path string
	// Err is the scanner error.
	Err error
}

// Error implements error.
func (e *FragmentParseError) Error() string {
	return fmt.Sprintf("malformed field descriptor %s: %v", e.Path, e.Err)
}

// Unwrap returns the scanner error.
func (e *FragmentParseError) Unwrap() error {
	return e.Err
}

// Property is one direct child of a fragment root: its element name and raw inner XML.
type Property struct {
	Key   string
	Value string
}

// rawContent captures the inner XML of an element verbatim.
type rawContent struct {
	Content string `xml:",innerxml"`
}

// ScanFragment reads a field descriptor and returns the direct children of its
// CustomField root in document order. Leaf values keep their escaping, nested
// values are kept as raw XML.
func ScanFragment(r io.Reader) ([]Property, error) {
	decoder := xml.NewDecoder(r)

	root, err := findRoot(decoder)
	if err != nil {
		return nil, err
	}

	if root.Name.Local != fieldRoot {
		return nil, fmt.Errorf("%w: %s", errUnexpectedRoot, root.Name.Local)
	}

	var properties []Property

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil, errUnclosedRoot
		}

		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			var inner rawContent
			if err = decoder.DecodeElement(&inner, &t); err != nil {
				return nil, err
			}

			properties = append(properties, Property{
				Key:   t.Name.Local,
				Value: strings.TrimSpace(inner.Content),
			})
		case xml.EndElement:
			return properties, nil
		}
	}
}

// findRoot skips the prolog and returns the first start element.
func findRoot(decoder *xml.Decoder) (xml.StartElement, error) {
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, errNoRoot
		}

		if err != nil {
			return xml.StartElement{}, err
		}

		if start, ok := token.(xml.StartElement); ok {
			return start, nil
		}
	}
}
