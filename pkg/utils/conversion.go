package utils

import (
	"fmt"
	"strconv"
)

// StringToUint64 parses a URL id parameter, returning 0 when it is not a number.
func StringToUint64(str string) uint64 {
	val, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0
	}
	return val
}

// ParseID parses a positive numeric path parameter.
func ParseID(name, str string) (uint64, error) {
	val := StringToUint64(str)
	if val == 0 {
		return 0, fmt.Errorf("%s must be a positive number", name)
	}
	return val, nil
}
