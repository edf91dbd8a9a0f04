// Package imageres creates images with device memory bound to them and derives views from them.
//
// A StorageImage is built in one step: the raw image is created, its memory requirements are
// queried, memory is allocated from a MemoryAllocator and bound. If any step fails, everything
// acquired by earlier steps is returned to the device before the error is returned. Once built,
// an image's memory never changes.
//
// Images built with New and NewWithUsage get pooled device-local memory, which the allocator may
// upgrade to a dedicated allocation when the driver asks for one. Images built with
// NewExportable always get a dedicated allocation that can be exported as a posix file
// descriptor, and are returned as an ExportableImage, the only type with an ExportFD method.
//
// The memory package provides the MemoryAllocator backend:
//
//	allocator, err := memory.New(logger, device, memory.CreateOptions{})
//	...
//	image, err := imageres.New(logger, imageres.NewMemoryAllocator(allocator),
//		imageres.Dim2D(32, 32, 1), core1_0.FormatR8G8B8A8UnsignedNormalized, []int{0})
package imageres
