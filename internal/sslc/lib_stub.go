//go:build !(linux || darwin)

package sslc

import "errors"

// Library is unavailable on platforms without dlopen support.
type Library struct{}

// Open reports that the parser library cannot be loaded on this platform.
func Open(path string) (*Library, error) {
	return nil, errors.New("sslc: parser library loading is not supported on this platform")
}

func (l *Library) Close() error { return nil }

func (l *Library) Parse(tempPath, origPath, includeDir string) (*ParseResult, error) {
	return nil, ErrUnknown
}
