package validation

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// XmllintValidator runs the xmllint binary against a schema, feeding the
// document on stdin.
type XmllintValidator struct {
	binary string
	schema string
}

func NewXmllintValidator(binary, schema string) *XmllintValidator {
	return &XmllintValidator{binary: binary, schema: schema}
}

func (v *XmllintValidator) Name() string {
	return "xmllint"
}

func (v *XmllintValidator) Validate(ctx context.Context, content []byte) error {
	cmd := exec.CommandContext(ctx, v.binary, "--schema", v.schema, "--noout", "-")
	cmd.Stdin = bytes.NewReader(content)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return errors.New(lastLines(text, 3))
		}
		return errors.Wrap(err, "run xmllint")
	}
	if !strings.Contains(text, "validates") || strings.Contains(text, "fails to validate") {
		return errors.New(lastLines(text, 3))
	}
	return nil
}

func lastLines(text string, n int) string {
	if text == "" {
		return "no output"
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
