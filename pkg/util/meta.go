package util

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	APIVersionV1Alpha1 = "evalkit/v1alpha1"
)

// TypeMeta is embedded in every file-backed spec.
type TypeMeta struct {
	APIVersion string `json:"apiVersion,omitempty"`
	Kind       string `json:"kind"`
}

func (t *TypeMeta) GetAPIVersion() string {
	if t.APIVersion == "" {
		return APIVersionV1Alpha1
	}

	return t.APIVersion
}

func (t *TypeMeta) Validate(expectedKind string) error {
	var err error
	err = errors.Join(err, ValidateAPIVersion(t.APIVersion))
	if t.Kind != expectedKind {
		err = errors.Join(err, fmt.Errorf("invalid kind '%s': expected '%s'", t.Kind, expectedKind))
	}

	return err
}

func ValidateAPIVersion(version string) error {
	switch version {
	case "", APIVersionV1Alpha1:
		return nil
	default:
		return fmt.Errorf("unknown apiVersion '%s'", version)
	}
}

// UnmarshalWithKind decodes data into target after checking that its kind is
// expectedKind and its apiVersion is known. target must not implement
// json.Unmarshaler itself, so callers pass a doppleganger of their spec type.
func UnmarshalWithKind(data []byte, target any, expectedKind string) error {
	meta := TypeMeta{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}

	if meta.Kind != expectedKind {
		return fmt.Errorf("cannot decode kind '%s' as kind '%s'", meta.Kind, expectedKind)
	}
	if err := ValidateAPIVersion(meta.APIVersion); err != nil {
		return err
	}

	return json.Unmarshal(data, target)
}
