// Package xsd validates structured reports with libxml2 through cgo.
package xsd

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	xsdvalidate "github.com/terminalstatic/go-xsd-validate"
)

var initOnce sync.Once
var initErr error

// Validator holds a compiled schema. It must be closed when no longer
// needed.
type Validator struct {
	mu      sync.Mutex
	handler *xsdvalidate.XsdHandler
}

// NewFromFile compiles the schema at path.
func NewFromFile(path string) (*Validator, error) {
	if err := initLibrary(); err != nil {
		return nil, err
	}
	handler, err := xsdvalidate.NewXsdHandlerUrl(path, xsdvalidate.ParsErrDefault)
	if err != nil {
		return nil, errors.Wrapf(err, "compile schema %s", path)
	}
	return &Validator{handler: handler}, nil
}

// NewFromBytes compiles an in-memory schema.
func NewFromBytes(schema []byte) (*Validator, error) {
	if err := initLibrary(); err != nil {
		return nil, err
	}
	handler, err := xsdvalidate.NewXsdHandlerMem(schema, xsdvalidate.ParsErrDefault)
	if err != nil {
		return nil, errors.Wrap(err, "compile schema")
	}
	return &Validator{handler: handler}, nil
}

func initLibrary() error {
	initOnce.Do(func() {
		initErr = xsdvalidate.Init()
	})
	return initErr
}

func (v *Validator) Name() string {
	return "libxml2"
}

func (v *Validator) Validate(ctx context.Context, content []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handler == nil {
		return errors.New("validator closed")
	}
	return v.handler.ValidateMem(content, xsdvalidate.ValidErrDefault)
}

func (v *Validator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handler != nil {
		v.handler.Free()
		v.handler = nil
	}
}
