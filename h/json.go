package h

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

func ToJsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func FromJsonString(source string, target any) error {
	err := json.Unmarshal([]byte(source), target)
	if err != nil {
		return err
	}
	return nil
}

// JsonField reads a single field out of a JSON document without decoding
// the whole thing.
func JsonField(source string, path string) any {
	value := gjson.Get(source, path)
	if value.Exists() {
		return value.Value()
	}
	return nil
}
