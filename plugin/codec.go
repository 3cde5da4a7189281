package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/vinayprograms/pluginkit/errors"
)

// SetResponse encodes v as a JSON document and appends it to resp as a single
// row keyed by key.
func SetResponse(key string, v interface{}, resp *Response) error {
	if key == "" {
		return errors.InvalidInput("response key must not be empty")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode response %q", key)
	}
	*resp = append(*resp, map[string]string{key: string(data)})
	return nil
}

// GetResponse decodes the first row of resp holding key into v.
func GetResponse(key string, resp Response, v interface{}) error {
	for _, row := range resp {
		raw, ok := row[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), v); err != nil {
			return errors.Wrapf(err, "decode response %q", key)
		}
		return nil
	}
	return errors.NotFound(fmt.Sprintf("response has no %q row", key))
}
