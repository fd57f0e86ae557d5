package utils

import (
	"xnat-importer/constants"

	"go.uber.org/zap"
)

// NewLogger returns a development logger for the development workspace and
// a production logger otherwise.
func NewLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	switch env {
	case constants.EnvDevelopment:
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
