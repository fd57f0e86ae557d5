// Package validation gates structured reports behind schema validators.
package validation

import (
	"context"
	"fmt"

	"xnat-importer/entities"

	"go.uber.org/zap"
)

// Validator checks a structured report. A nil error means the document is
// valid.
type Validator interface {
	Name() string
	Validate(ctx context.Context, content []byte) error
}

// Gate requires every validator to accept a document.
type Gate struct {
	validators []Validator
	logger     *zap.Logger
}

func NewGate(logger *zap.Logger, validators ...Validator) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{validators: validators, logger: logger}
}

// Check runs all validators, even after the first failure, so that the
// diagnostics of every validator are reported. It returns a
// *entities.ValidationFailed when any of them rejects the document.
func (g *Gate) Check(ctx context.Context, file string, content []byte) error {
	if len(g.validators) == 0 {
		return &entities.ValidationFailed{File: file, Diagnostics: []string{"no validator configured"}}
	}

	var diagnostics []string
	for _, v := range g.validators {
		if err := v.Validate(ctx, content); err != nil {
			g.logger.Debug("validator rejected report",
				zap.String("validator", v.Name()),
				zap.String("file", file),
				zap.Error(err))
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %v", v.Name(), err))
		}
	}
	if len(diagnostics) > 0 {
		return &entities.ValidationFailed{File: file, Diagnostics: diagnostics}
	}
	return nil
}
