package memory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"golang.org/x/exp/slog"
)

type deviceMemoryBlock struct {
	id                int
	memory            vulkan.DeviceMemory
	memoryTypeIndex   int
	exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags
	logger            *slog.Logger

	metadata     *suballoc.BlockMetadata
	deviceMemory *deviceMemoryProperties
}

func (b *deviceMemoryBlock) Init(
	logger *slog.Logger,
	deviceMemory *deviceMemoryProperties,
	newMemoryTypeIndex int,
	newMemory vulkan.DeviceMemory,
	newSize int,
	id int,
	bufferImageGranularity int,
	exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags,
) {
	if b.memory != nil {
		panic("attempting to initialize a device memory block that is already in use")
	}

	b.memoryTypeIndex = newMemoryTypeIndex
	b.id = id
	b.memory = newMemory
	b.deviceMemory = deviceMemory
	b.logger = logger
	b.exportHandleTypes = exportHandleTypes

	b.metadata = suballoc.NewBlockMetadata(uint(bufferImageGranularity))
	b.metadata.Init(newSize)
}

func (b *deviceMemoryBlock) Destroy() error {
	if !b.metadata.IsEmpty() {
		// Log all remaining allocations
		err := b.metadata.VisitAllRegions(func(handle suballoc.Handle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			b.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.New("some allocations were not freed before the destruction of this memory block!")
	}

	if b.memory == nil {
		panic("attempting to destroy a memory block, but it did not have a backing vulkan memory handle")
	}

	b.deviceMemory.FreeVulkanMemory(b.memoryTypeIndex, b.metadata.Size(), b.memory)

	b.memory = nil
	b.metadata = nil
	return nil
}

func (b *deviceMemoryBlock) logUnreleasedMemory(offset, size int, userData any) {
	name := "empty"
	var allocUserData any

	allocation, isAllocation := userData.(*Allocation)
	if isAllocation && allocation != nil {
		allocUserData = allocation.UserData()
		if allocation.Name() != "" {
			name = allocation.Name()
		}
	}

	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.Any("userData", allocUserData),
		slog.String("name", name),
	)
}

func (b *deviceMemoryBlock) Validate() error {
	if b.memory == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.metadata.Size() < 1 {
		return errors.New("this memory block's metadata has an invalid size")
	}

	err := b.metadata.VisitAllRegions(func(handle suballoc.Handle, offset, size int, userData any, free bool) error {
		allocation, isAllocation := userData.(*Allocation)
		if free && isAllocation {
			return errors.Newf("an allocation at offset %d is marked as free but contains an allocation object", offset)
		} else if !free && (!isAllocation || allocation == nil) {
			return errors.Newf("an allocation at offset %d is marked as allocated but has no allocation object", offset)
		}

		return nil
	})

	if err != nil {
		return err
	}

	return b.metadata.Validate()
}
