package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
)

// ParseDotEnv reads .env content in the usual KEY=VALUE form, including
// "export " prefixes, quoted values, inline comments and ${VAR} references
// to keys defined earlier in the file.
func ParseDotEnv(r io.Reader) (map[string]string, error) {
	vars, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse .env: %w", err)
	}
	return vars, nil
}

// LoadDotEnv reads the .env file at path. A missing file yields an empty
// map.
func LoadDotEnv(path string) (map[string]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseDotEnv(f)
}
