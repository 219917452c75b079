package segmentation

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestCacheComputesOncePerFingerprint(t *testing.T) {
	mock := &mockBackend{}
	cache := NewEmbeddingCache(mock)
	img := testImage(10, 10)

	state1, err := cache.Ensure(context.Background(), img, "fp-a")
	test.That(t, err, test.ShouldBeNil)
	state2, err := cache.Ensure(context.Background(), img, "fp-a")
	test.That(t, err, test.ShouldBeNil)

	test.That(t, mock.embedCalls, test.ShouldEqual, 1)
	test.That(t, state1, test.ShouldEqual, state2)

	hits, misses := cache.Stats()
	test.That(t, hits, test.ShouldEqual, 1)
	test.That(t, misses, test.ShouldEqual, 1)
}

func TestCacheEvictsOnNewFingerprint(t *testing.T) {
	mock := &mockBackend{}
	cache := NewEmbeddingCache(mock)
	img := testImage(10, 10)

	_, err := cache.Ensure(context.Background(), img, "fp-a")
	test.That(t, err, test.ShouldBeNil)
	first := mock.lastState

	_, err = cache.Ensure(context.Background(), img, "fp-b")
	test.That(t, err, test.ShouldBeNil)

	test.That(t, mock.embedCalls, test.ShouldEqual, 2)
	test.That(t, first.released, test.ShouldBeTrue)
	test.That(t, cache.Resident(), test.ShouldEqual, "fp-b")
}

func TestCacheFailureLeavesPriorState(t *testing.T) {
	mock := &mockBackend{}
	cache := NewEmbeddingCache(mock)
	img := testImage(10, 10)

	_, err := cache.Ensure(context.Background(), img, "fp-a")
	test.That(t, err, test.ShouldBeNil)
	first := mock.lastState

	mock.embedErr = errors.New("extraction blew up")
	_, err = cache.Ensure(context.Background(), img, "fp-b")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "extraction blew up")

	// prior entry untouched
	test.That(t, first.released, test.ShouldBeFalse)
	test.That(t, cache.Resident(), test.ShouldEqual, "fp-a")

	mock.embedErr = nil
	state, err := cache.Ensure(context.Background(), img, "fp-a")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state, test.ShouldEqual, first)
	test.That(t, mock.embedCalls, test.ShouldEqual, 2)
}

func TestCacheInvalidate(t *testing.T) {
	mock := &mockBackend{}
	cache := NewEmbeddingCache(mock)
	img := testImage(10, 10)

	_, err := cache.Ensure(context.Background(), img, "fp-a")
	test.That(t, err, test.ShouldBeNil)
	first := mock.lastState

	cache.Invalidate()
	test.That(t, first.released, test.ShouldBeTrue)
	test.That(t, cache.Resident(), test.ShouldEqual, "")

	_, err = cache.Ensure(context.Background(), img, "fp-a")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mock.embedCalls, test.ShouldEqual, 2)
}
