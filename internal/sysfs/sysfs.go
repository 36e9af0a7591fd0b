// Package sysfs reads the small text files exposed under /proc and /sys.
// Every reader returns the zero value when the file is missing or
// malformed; callers treat that as "not reported".
package sysfs

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// ReadString reads a single-line file and returns its trimmed content.
func ReadString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ReadInt64 reads a file holding one decimal integer.
func ReadInt64(path string) int64 {
	v, err := strconv.ParseInt(ReadString(path), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// CPUInfoField returns the first value of field in a cpuinfo file.
func CPUInfoField(path, field string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(name) == field {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
