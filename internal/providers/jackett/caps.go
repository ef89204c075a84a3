package jackett

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/bruhmeric/torrentwave/internal/domain"
	"github.com/bruhmeric/torrentwave/internal/providers/common"
)

const apiKeyErrorCode = "100"

type categoryContext struct {
	name  string
	valid bool
}

// ParseCapabilities reads a Torznab caps document into a flat taxonomy.
// Subcategories are named "<parent> / <child>" and only direct subcat
// children of a category are read. The result is sorted by name.
func ParseCapabilities(payload []byte) ([]domain.Category, error) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	decoder.CharsetReader = charsetReader

	var (
		categories []domain.Category
		apiErr     *Error
		elements   []string
		parents    []categoryContext
		sawRoot    bool
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformedCapabilities(err)
		}
		switch element := token.(type) {
		case xml.StartElement:
			sawRoot = true
			name := element.Name.Local
			parent := ""
			if len(elements) > 0 {
				parent = elements[len(elements)-1]
			}
			switch name {
			case "error":
				if apiErr == nil {
					apiErr = capabilitiesError(attrValue(element, "code"), attrValue(element, "description"))
				}
			case "category":
				id, label := attrValue(element, "id"), attrValue(element, "name")
				current := categoryContext{name: label, valid: id != "" && label != ""}
				if current.valid {
					categories = append(categories, domain.Category{ID: id, Name: label})
				}
				parents = append(parents, current)
			case "subcat":
				if parent != "category" || len(parents) == 0 {
					break
				}
				owner := parents[len(parents)-1]
				id, label := attrValue(element, "id"), attrValue(element, "name")
				if owner.valid && id != "" && label != "" {
					categories = append(categories, domain.Category{ID: id, Name: owner.name + " / " + label})
				}
			}
			elements = append(elements, name)
		case xml.EndElement:
			if len(elements) > 0 {
				elements = elements[:len(elements)-1]
			}
			if element.Name.Local == "category" && len(parents) > 0 {
				parents = parents[:len(parents)-1]
			}
		}
	}
	if !sawRoot {
		return nil, malformedCapabilities(errors.New("no root element"))
	}
	if apiErr != nil {
		return nil, apiErr
	}

	SortCategories(categories)
	return categories, nil
}

// SortCategories orders categories by name, case-insensitively.
func SortCategories(categories []domain.Category) {
	collator := common.NewCollator(false)
	slices.SortStableFunc(categories, func(a, b domain.Category) int {
		return collator.CompareString(a.Name, b.Name)
	})
}

func capabilitiesError(code, description string) *Error {
	if code == apiKeyErrorCode {
		return NewAPIError(invalidKeyMessage, code, 0)
	}
	message := strings.TrimSpace(description)
	if message == "" {
		message = fmt.Sprintf("Jackett API error (code %s)", code)
	}
	return NewAPIError(message, code, 0)
}

func malformedCapabilities(cause error) *Error {
	return &Error{Kind: KindAPI, Message: "malformed capabilities document", Err: cause}
}

func attrValue(element xml.StartElement, name string) string {
	for _, attr := range element.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	encoding, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if encoding == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return encoding.NewDecoder().Reader(input), nil
}
