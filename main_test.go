package main

import (
	"context"
	"testing"

	"xnat-importer/constants"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewGateRequiresXmllint(t *testing.T) {
	defer viper.Reset()

	for _, name := range []string{"", "xnat-importer-no-such-xmllint"} {
		viper.Set(constants.KeySchema, "/nonexistent/schema.xsd")
		viper.Set(constants.KeyXmllint, name)

		gate, closeGate, err := newGate(zap.NewNop())
		require.Error(t, err, "xmllint %q", name)
		assert.Contains(t, err.Error(), "xmllint")
		assert.Nil(t, gate)
		assert.Nil(t, closeGate)
	}
}

func TestRunImportFailsWithoutSecondValidator(t *testing.T) {
	defer viper.Reset()
	viper.Set(constants.KeyMode, constants.ModePath)
	viper.Set(constants.KeyXmllint, "xnat-importer-no-such-xmllint")

	assert.Equal(t, constants.ExitNonRetryable, runImport(context.Background(), t.TempDir()))
}
