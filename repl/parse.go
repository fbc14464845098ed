package repl

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePyTuple parses a Python tuple-of-ints repr, e.g. "(2026, 7, 30, 12,
// 0, 0, 3, 211, -1)", as produced by _get_time(). This is a narrow,
// protocol-specific decoder, not a general Python literal parser.
func parsePyTuple(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	if s == "" {
		return nil, fmt.Errorf("empty tuple")
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// parsePyCharacteristics parses the dict repr produced by
// _device_characteristics(), e.g.
// "{'has_buffer': True, 'has_binascii': True, 'time_offset': 946684800}".
func parsePyCharacteristics(s string) (Characteristics, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	var c Characteristics
	for _, field := range strings.Split(s, ",") {
		kv := strings.SplitN(field, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.Trim(strings.TrimSpace(kv[0]), "'\"")
		value := strings.TrimSpace(kv[1])
		switch key {
		case "has_buffer":
			c.HasBuffer = value == "True"
		case "has_binascii":
			c.HasBinascii = value == "True"
		case "time_offset":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Characteristics{}, fmt.Errorf("time_offset %q: %w", value, err)
			}
			c.TimeOffset = n
		}
	}
	return c, nil
}
