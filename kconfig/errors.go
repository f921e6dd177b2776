package kconfig

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigurationError reports one missing, unknown or malformed option.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %q: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

func missing(key string) error {
	return &ConfigurationError{Key: key, Reason: "required option is missing"}
}

func unknown(key string) error {
	return &ConfigurationError{Key: key, Reason: "unrecognized option"}
}

func invalid(key string, format string, args ...any) error {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
