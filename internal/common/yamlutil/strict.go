package yamlutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned for input without any YAML document.
var ErrEmptyDocument = errors.New("configuration is empty")

// UnmarshalStrict decodes the first YAML document in data into v, rejecting
// fields v does not declare.
func UnmarshalStrict(data []byte, v interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	err := decoder.Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return ErrEmptyDocument
	case strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found"):
		return fmt.Errorf("unknown configuration field (check for typos): %w", err)
	default:
		return err
	}
}
