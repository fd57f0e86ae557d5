package importer

import (
	"strings"

	"xnat-importer/constants"
	"xnat-importer/entities"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// DirConfig holds the credentials of one top-level directory.
type DirConfig struct {
	Username string
	Password string
	BaseURL  string
}

// LoadDirConfig reads the [xnat] section of the ini file at path. The base
// URL falls back to fallbackURL when the file does not set one.
func LoadDirConfig(fs afero.Fs, path, fallbackURL string) (DirConfig, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return DirConfig{}, &entities.ConfigError{Path: path, Reason: err.Error()}
	}

	cfg := DirConfig{
		Username: strings.TrimSpace(v.GetString(constants.KeyDirUsername)),
		Password: v.GetString(constants.KeyDirPassword),
		BaseURL:  strings.TrimSpace(v.GetString(constants.KeyDirBaseURL)),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fallbackURL
	}

	var missing []string
	if cfg.Username == "" {
		missing = append(missing, "username")
	}
	if cfg.Password == "" {
		missing = append(missing, "password")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if len(missing) > 0 {
		return DirConfig{}, &entities.ConfigError{
			Path:   path,
			Reason: "missing " + strings.Join(missing, ", ") + " in [xnat] section",
		}
	}
	return cfg, nil
}
