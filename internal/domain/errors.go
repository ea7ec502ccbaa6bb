package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass groups errors by how the engine recovers from them.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	// ClassConfiguration errors are fatal at load time; nothing starts.
	ClassConfiguration
	// ClassSource errors are recovered locally as per-field status codes.
	ClassSource
	// ClassTransport errors drop the current cycle; the next one proceeds.
	ClassTransport
)

func (c ErrorClass) String() string {
	switch c {
	case ClassConfiguration:
		return "configuration"
	case ClassSource:
		return "source"
	case ClassTransport:
		return "transport"
	default:
		return "unknown"
	}
}

var (
	ErrConfiguration = errors.New("invalid pubsub configuration")

	ErrSourceUnavailable = errors.New("source unavailable")
	ErrStaleData         = errors.New("stale data")
	ErrTypeMismatch      = errors.New("type mismatch")

	ErrUnsupportedQoS       = errors.New("unsupported delivery guarantee")
	ErrNotConnected         = errors.New("transport not connected")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrSendFailed           = errors.New("send failed")
	ErrReconnectExhausted   = errors.New("reconnect budget exhausted")

	ErrPartialActivation = errors.New("some writer groups failed to activate")
)

// ConfigError reports an invalid configuration value together with the path
// of the offending entry, e.g. connections[0].writer_groups[1].publishing_interval.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", ErrConfiguration, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrConfiguration, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

// ConfigErrorf builds a ConfigError for path.
func ConfigErrorf(path, format string, args ...any) error {
	return &ConfigError{Path: path, Err: fmt.Errorf(format, args...)}
}

// Classify returns the recovery class of err.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrConfiguration):
		return ClassConfiguration
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrStaleData), errors.Is(err, ErrTypeMismatch):
		return ClassSource
	case errors.Is(err, ErrUnsupportedQoS), errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrTransportUnavailable), errors.Is(err, ErrSendFailed),
		errors.Is(err, ErrReconnectExhausted):
		return ClassTransport
	default:
		return ClassUnknown
	}
}

func IsConfiguration(err error) bool { return Classify(err) == ClassConfiguration }

// IsTransient reports whether a later attempt may succeed without any change
// to the configuration.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrTransportUnavailable) ||
		errors.Is(err, ErrSendFailed) ||
		errors.Is(err, ErrSourceUnavailable)
}

// ActivationError lists the writer groups that could not be started. The
// remaining groups run normally.
type ActivationError struct {
	Failed map[string]error
}

func (e *ActivationError) names() []string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *ActivationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrPartialActivation.Error())
	for _, name := range e.names() {
		fmt.Fprintf(&b, "; %s: %v", name, e.Failed[name])
	}
	return b.String()
}

// Unwrap exposes ErrPartialActivation followed by each group's failure.
func (e *ActivationError) Unwrap() []error {
	errs := []error{ErrPartialActivation}
	for _, name := range e.names() {
		errs = append(errs, e.Failed[name])
	}
	return errs
}
