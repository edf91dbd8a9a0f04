package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalRWMutexDisabled(t *testing.T) {
	var m OptionalRWMutex

	// Without UseMutex, recursive locking must not deadlock
	m.Lock()
	m.Lock()
	m.RLock()
	m.RUnlock()
	m.Unlock()
	m.Unlock()

	require.True(t, m.Mutex.TryLock())
	m.Mutex.Unlock()
}

func TestOptionalRWMutexEnabled(t *testing.T) {
	m := OptionalRWMutex{UseMutex: true}
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	m.RLock()
	defer m.RUnlock()
	require.Equal(t, 1600, counter)
	require.False(t, m.Mutex.TryLock())
}
