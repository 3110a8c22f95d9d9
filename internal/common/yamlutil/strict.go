package yamlutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned when the input holds no YAML document at all
var ErrEmptyDocument = errors.New("empty yaml document")

// UnmarshalStrict decodes YAML data rejecting unknown fields, so typos in
// configuration files fail loudly instead of silently falling back to defaults.
func UnmarshalStrict(data []byte, v interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	err := decoder.Decode(v)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return ErrEmptyDocument
	}

	errStr := err.Error()
	if strings.Contains(errStr, "field") && strings.Contains(errStr, "not found") {
		return fmt.Errorf("unknown configuration field (check for typos): %w", err)
	}
	return err
}
