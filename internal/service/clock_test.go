package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocks_SerialisePerKey(t *testing.T) {
	locks := newKeyedLocks()

	release := locks.Lock(postKey(1))

	// other keys are independent
	otherDone := make(chan struct{})
	go func() {
		unlock := locks.Lock(destinationKey(1, "fake"))
		unlock()
		close(otherDone)
	}()
	select {
	case <-otherDone:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on another key blocked")
	}

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock(postKey(1))
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released")
	}

	// a released key can be taken again
	again := locks.Lock(postKey(1))
	again()
	assert.Equal(t, "publish:7:blog", destinationKey(7, "blog"))
}
