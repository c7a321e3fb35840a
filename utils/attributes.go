package utils

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// DecodeAttributes converts a raw attribute map, as parsed from JSON, into a typed config struct
// using the struct's json tags.
func DecodeAttributes(attributes map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Squash:           true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build attribute decoder")
	}
	if err := decoder.Decode(attributes); err != nil {
		return errors.Wrap(err, "failed to decode attributes")
	}
	return nil
}
