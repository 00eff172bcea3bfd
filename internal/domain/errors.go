// Package domain defines domain-specific errors.
// These errors represent engine failures and are independent of the drawing backend.
package domain

import (
	"errors"
	"fmt"
)

// Common errors that the engine and its renderers can return.
var (
	// ErrNotInitialized is returned when a mutating operation is attempted before Initialize or after Cleanup.
	ErrNotInitialized = errors.New("visualization engine not initialized")

	// ErrNoContext is returned when a surface cannot provide a 2D drawing context.
	ErrNoContext = errors.New("2d drawing context unavailable")

	// ErrNilSurface is returned when Initialize is called without a surface.
	ErrNilSurface = errors.New("surface is nil")

	// ErrUnknownMode is returned for a visualization mode outside the supported set.
	ErrUnknownMode = errors.New("unknown visualization mode")

	// ErrUnknownLayer is returned for a layer outside the supported set.
	ErrUnknownLayer = errors.New("unknown layer")

	// ErrUnsupportedSource is returned when an image source scheme cannot be loaded.
	ErrUnsupportedSource = errors.New("unsupported image source")

	// ErrNoEmbeddedPicture is returned when an audio file carries no album art.
	ErrNoEmbeddedPicture = errors.New("no embedded picture")

	// ErrGenerationInFlight is returned when a generation is requested while another is running.
	ErrGenerationInFlight = errors.New("image generation already in progress")

	// ErrGenerationCoolingDown is returned when a generation is requested during the failure cooldown.
	ErrGenerationCoolingDown = errors.New("image generation cooling down after failure")

	// ErrNoGenerator is returned when generation is requested without a configured generator.
	ErrNoGenerator = errors.New("no image generator configured")

	// ErrSourceClosed is returned by audio sources after Close.
	ErrSourceClosed = errors.New("audio source closed")

	// ErrNoScheduler is returned by StartRendering when no frame scheduler is configured.
	ErrNoScheduler = errors.New("no frame scheduler configured")
)

// InitializationError is the fatal error raised when the engine cannot start.
// It is distinct from runtime errors so hosts can abort instead of retrying.
type InitializationError struct {
	Component string // Component that failed (e.g., "surface", "equalizer")
	Message   string // Error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization of %s failed: %s", e.Component, e.Message)
}

// Unwrap returns the underlying error.
func (e *InitializationError) Unwrap() error {
	return e.Err
}

// NewInitializationError creates a new InitializationError.
func NewInitializationError(component, message string, err error) *InitializationError {
	return &InitializationError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// ImageLoadError wraps a failure to load or decode an image source.
type ImageLoadError struct {
	Source  string // Source that failed (path, data URI prefix, ...)
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("image load failed for '%s': %s", e.Source, e.Message)
}

// Unwrap returns the underlying error.
func (e *ImageLoadError) Unwrap() error {
	return e.Err
}

// NewImageLoadError creates a new ImageLoadError.
// Long sources such as data URIs are truncated for readability.
func NewImageLoadError(source, message string, err error) *ImageLoadError {
	if len(source) > 64 {
		source = source[:61] + "..."
	}
	return &ImageLoadError{
		Source:  source,
		Message: message,
		Err:     err,
	}
}

// GenerationError wraps a failed AI image generation.
type GenerationError struct {
	Key     string // Feature bucket key of the request
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("image generation for %s failed: %s", e.Key, e.Message)
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError creates a new GenerationError.
func NewGenerationError(key, message string, err error) *GenerationError {
	return &GenerationError{
		Key:     key,
		Message: message,
		Err:     err,
	}
}

// RenderError reports a layer that failed during a frame.
type RenderError struct {
	Layer Layer // Layer that failed
	Panic any   // Recovered panic value, if the layer panicked
	Err   error // Returned error, if the layer returned one
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("layer %s panicked: %v", e.Layer, e.Panic)
	}
	return fmt.Sprintf("layer %s failed: %v", e.Layer, e.Err)
}

// Unwrap returns the underlying error.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// NewRenderError creates a new RenderError.
func NewRenderError(layer Layer, panicValue any, err error) *RenderError {
	return &RenderError{
		Layer: layer,
		Panic: panicValue,
		Err:   err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string      // Field that failed validation
	Value   interface{} // Value that failed validation
	Message string      // Error message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RepositoryError represents an error from a repository.
// This wraps persistence layer errors with additional context.
type RepositoryError struct {
	Op      string // Operation that failed (e.g., "save", "load")
	Type    string // Repository type (e.g., "settings")
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s.%s failed: %s", e.Type, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError creates a new RepositoryError.
func NewRepositoryError(op, repoType, message string, err error) *RepositoryError {
	return &RepositoryError{
		Op:      op,
		Type:    repoType,
		Message: message,
		Err:     err,
	}
}
