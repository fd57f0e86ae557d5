package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	xml2json "github.com/basgys/goxml2json"
)

// RootElementValidator checks that a document is well formed and that its
// root element is the one the schema declares.
type RootElementValidator struct {
	root string
}

func NewRootElementValidator(root string) *RootElementValidator {
	return &RootElementValidator{root: root}
}

func (v *RootElementValidator) Name() string {
	return "root-element"
}

func (v *RootElementValidator) Validate(ctx context.Context, content []byte) error {
	// xml2json drops tokenizer errors, so well-formedness is checked first
	if err := wellFormed(content); err != nil {
		return fmt.Errorf("malformed xml: %v", err)
	}

	converted, err := xml2json.Convert(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("malformed xml: %v", err)
	}
	doc := make(map[string]interface{})
	if err := json.Unmarshal(converted.Bytes(), &doc); err != nil {
		return fmt.Errorf("malformed xml: %v", err)
	}
	if len(doc) == 0 {
		return fmt.Errorf("empty document")
	}
	if v.root == "" {
		return nil
	}
	for name := range doc {
		if name == v.root || strings.HasSuffix(name, ":"+v.root) {
			return nil
		}
	}
	return fmt.Errorf("root element is not %s", v.root)
}

func wellFormed(content []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(content))
	elements := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if _, ok := tok.(xml.StartElement); ok {
			elements++
		}
	}
	if elements == 0 {
		return fmt.Errorf("no root element")
	}
	return nil
}
