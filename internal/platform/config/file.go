package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when no
// explicit path is configured.
const DefaultFile = "config.yaml"

// LoadFile decodes the config file at path into target. Files ending in .toml
// are decoded as TOML; anything else is decoded as YAML. Fields absent from the
// file keep their current values. When optional is true a missing file is not
// an error.
func LoadFile(path string, target any, optional bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := DecodeFile(path, data, target); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// DecodeFile decodes raw config bytes using the format implied by path.
func DecodeFile(path string, data []byte, target any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(data), target)
		return err
	default:
		if len(strings.TrimSpace(string(data))) == 0 {
			return nil
		}
		return yaml.Unmarshal(data, target)
	}
}
