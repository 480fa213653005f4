// Package metadata implements the tus Upload-Metadata wire form: a
// comma-separated list of "key base64value" pairs, where a key may appear
// without a value.
package metadata

import (
	"encoding/base64"
	"sort"
	"strings"
)

type Metadata map[string]string

// Parse decodes the serialized form. Malformed pairs are skipped rather than
// rejected, matching how the protocol treats client-supplied metadata.
func Parse(serialized string) Metadata {
	md := Metadata{}

	for _, part := range strings.Split(serialized, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.SplitN(part, " ", 2)
		key := fields[0]
		if key == "" {
			continue
		}

		if len(fields) == 1 {
			md[key] = ""
			continue
		}

		value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}

		md[key] = string(value)
	}

	return md
}

// GetValue extracts a single key from the serialized form without decoding
// the rest.
func GetValue(serialized, key string) string {
	return Parse(serialized)[key]
}

func (md Metadata) Get(key string) string {
	return md[key]
}

func (md Metadata) Has(key string) bool {
	_, ok := md[key]
	return ok
}

// Encode serializes with keys in sorted order so output is deterministic.
func Encode(md Metadata) string {
	keys := make([]string, 0, len(md))
	for key := range md {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := md[key]
		if value == "" {
			parts = append(parts, key)
			continue
		}
		parts = append(parts, key+" "+base64.StdEncoding.EncodeToString([]byte(value)))
	}

	return strings.Join(parts, ",")
}
