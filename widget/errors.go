package widget

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidConfiguration = "AUTH_WIDGET_INVALID_CONFIGURATION"
	TextCodeContainerNotFound    = "AUTH_WIDGET_CONTAINER_NOT_FOUND"
	TextCodeAlreadyMounted       = "AUTH_WIDGET_ALREADY_MOUNTED"
	TextCodeMountFailed          = "AUTH_WIDGET_MOUNT_FAILED"
)

// ErrInvalidConfiguration is returned when a required Config field is missing.
var ErrInvalidConfiguration = goerrors.New("Invalid widget configuration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfiguration).
	WithCode(goerrors.CodeBadRequest)

// ErrContainerNotFound is returned by Init when the container element does
// not exist in the document.
var ErrContainerNotFound = goerrors.New("Container element not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeContainerNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyMounted is returned by Init on a host that is already mounted.
var ErrAlreadyMounted = goerrors.New("Widget is already mounted", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyMounted).
	WithCode(goerrors.CodeConflict)

// ErrMountFailed is returned when the element refuses the widget view.
var ErrMountFailed = goerrors.New("Failed to mount widget", goerrors.CategoryInternal).
	WithTextCode(TextCodeMountFailed).
	WithCode(goerrors.CodeInternal)

func widgetError(base *goerrors.Error, message string, source error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if message != "" {
		clone.Message = message
	}
	if source != nil {
		clone.Source = source
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
