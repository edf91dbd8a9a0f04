package imageres

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrConfiguration marks every error caused by parameters that can never produce a valid image.
// Retrying with the same parameters will fail the same way.
var ErrConfiguration = errors.New("invalid image configuration")

var (
	// ErrCompressedFormat is returned when a block-compressed format is used to build a storage
	// image
	ErrCompressedFormat = errors.Mark(errors.New("compressed formats cannot be used for storage images"), ErrConfiguration)
	// ErrDisjointImage is returned when ImageCreateDisjoint is requested
	ErrDisjointImage = errors.Mark(errors.New("disjoint images are not supported"), ErrConfiguration)
	// ErrNotExportable is returned when the device cannot export memory for the requested
	// format and usage
	ErrNotExportable = errors.Mark(errors.New("the device cannot export memory for this image"), ErrConfiguration)
	// ErrInvalidDimensions is returned for dimensions with a zero or negative extent
	ErrInvalidDimensions = errors.Mark(errors.New("invalid image dimensions"), ErrConfiguration)
)

var (
	// ErrImageMissingUsage is the cause of a ViewCreationError when the view asks for usage that
	// the image was not created with
	ErrImageMissingUsage = errors.New("the image was not created with the usage required by the view")
	// ErrAlreadyReleased is returned when an image reference is used after it was released
	ErrAlreadyReleased = errors.New("image reference has already been released")
	// ErrViewDestroyed is returned when an ImageView is destroyed more than once
	ErrViewDestroyed = errors.New("image view has already been destroyed")
)

// AllocationError is returned when memory could not be allocated for an image. Cause is the
// allocator's error, commonly memory.ErrOutOfDeviceMemory or memory.ErrNoSuitableMemoryType.
type AllocationError struct {
	Cause error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("failed to allocate image memory: %v", e.Cause)
}

func (e *AllocationError) Unwrap() error {
	return e.Cause
}

// BindError is returned when the driver refuses to bind memory to an image. The memory has
// already been returned to the allocator when this error is returned.
type BindError struct {
	Cause error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind image memory: %v", e.Cause)
}

func (e *BindError) Unwrap() error {
	return e.Cause
}

// ViewErrorKind distinguishes invalid view requests from driver failures
type ViewErrorKind uint32

const (
	// ViewErrorMissingUsage means the requested usage is not a subset of the image's usage, or
	// includes nothing a view can be used for
	ViewErrorMissingUsage ViewErrorKind = iota
	// ViewErrorDriver means the device rejected the view
	ViewErrorDriver
)

var viewErrorKindMapping = map[ViewErrorKind]string{
	ViewErrorMissingUsage: "ViewErrorMissingUsage",
	ViewErrorDriver:       "ViewErrorDriver",
}

func (k ViewErrorKind) String() string {
	str, ok := viewErrorKindMapping[k]
	if !ok {
		return "unknown ViewErrorKind"
	}
	return str
}

// ViewCreationError is returned when an image view could not be created
type ViewCreationError struct {
	Kind  ViewErrorKind
	Cause error
}

func (e *ViewCreationError) Error() string {
	return fmt.Sprintf("failed to create image view (%s): %v", e.Kind, e.Cause)
}

func (e *ViewCreationError) Unwrap() error {
	return e.Cause
}
