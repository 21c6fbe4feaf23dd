package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ByteSize is a byte count that decodes from plain integers or IEC strings.
type ByteSize int64

// Size units.
const (
	KiB ByteSize = 1 << 10
	MiB ByteSize = 1 << 20
	GiB ByteSize = 1 << 30
)

// ParseSize converts a human-friendly size string into a byte count.
// Accepts plain integers (bytes) or IEC/human suffixes: KiB/MiB/GiB (case-insensitive) or K/M/G.
// Examples: "131072" => 131072, "128KiB" => 131072, "1MiB" => 1048576, "2G" => 2147483648.
func ParseSize(s string) (ByteSize, error) {
	orig := s
	upper := strings.ToUpper(strings.TrimSpace(s))
	if upper == "" {
		return 0, fmt.Errorf("empty size string")
	}
	units := []struct {
		suffix string
		mult   ByteSize
	}{
		{"KIB", KiB}, {"MIB", MiB}, {"GIB", GiB},
		{"K", KiB}, {"M", MiB}, {"G", GiB},
	}
	mult := ByteSize(1)
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			upper = strings.TrimSpace(upper[:len(upper)-len(u.suffix)])
			mult = u.mult
			break
		}
	}
	if upper == "" {
		return 0, fmt.Errorf("parse size %q: missing number", orig)
	}
	n, err := strconv.ParseInt(upper, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", orig, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("parse size %q: negative not allowed", orig)
	}
	return ByteSize(n) * mult, nil
}

// StringToByteSize is a DecodeHookFunc that converts a string to ByteSize.
func StringToByteSize() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		return ParseSize(data.(string))
	}
}

// StringToExtensions is a DecodeHookFunc that splits a comma list into
// lower-cased extensions, adding the leading dot when missing.
func StringToExtensions() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]string{}) {
			return data, nil
		}
		out := []string{}
		for _, part := range strings.Split(data.(string), ",") {
			ext := strings.ToLower(strings.TrimSpace(part))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			out = append(out, ext)
		}
		return out, nil
	}
}
