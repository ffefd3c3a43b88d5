package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Environment variables overlaid onto the settings.
const (
	EnvClientID    = "SF_CLIENT_ID"
	EnvUsername    = "SF_USERNAME"
	EnvPrivateKey  = "SF_PRIVATE_KEY"
	EnvAccessToken = "SF_ACCESS_TOKEN"
	EnvInstanceURL = "SF_INSTANCE_URL"
	EnvEnvironment = "SF_ENV"
	EnvLoginURL    = "SF_LOGIN_URL"
)

// LookupFunc reads one environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnvironment overlays credentials from the dotenv file and then from the
// process environment, which wins. A missing dotenv file at the default path is ignored.
func ApplyEnvironment(cfg *Config, dotenvPath string, lookup LookupFunc) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	explicit := dotenvPath != ""
	if !explicit {
		dotenvPath = DefaultDotenvFilename
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}

	values, err := godotenv.Read(filepath.Clean(dotenvPath))

	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
		values = map[string]string{}
	default:
		return fmt.Errorf("read %s: %w", dotenvPath, err)
	}

	targets := map[string]*string{
		EnvClientID:    &cfg.ClientID,
		EnvUsername:    &cfg.Username,
		EnvPrivateKey:  &cfg.PrivateKey,
		EnvAccessToken: &cfg.AccessToken,
		EnvInstanceURL: &cfg.InstanceURL,
		EnvEnvironment: &cfg.Environment,
		EnvLoginURL:    &cfg.LoginURL,
	}

	for key, target := range targets {
		if value, ok := lookup(key); ok && value != "" {
			*target = value

			continue
		}

		if value := values[key]; value != "" {
			*target = value
		}
	}

	return Validate(cfg)
}
