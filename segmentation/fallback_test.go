package segmentation

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestFallbackDiskGeometry(t *testing.T) {
	// one positive point at the center of a 200x200 image: every pixel
	// within radius 30 (0.15 * 200) is included, nothing else is.
	mask, score, err := SynthesizeFallbackMask(200, 200, []Point{{X: 100, Y: 100}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, score, test.ShouldEqual, 0.5)

	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			dist := math.Hypot(float64(x)-100, float64(y)-100)
			if dist <= 30 {
				test.That(t, mask.Included(x, y), test.ShouldBeTrue)
			} else {
				test.That(t, mask.Included(x, y), test.ShouldBeFalse)
			}
		}
	}
}

func TestFallbackNegativeCarveWins(t *testing.T) {
	// a negative point at the same location always carves out the
	// positive disk, regardless of supplied order.
	mask, _, err := SynthesizeFallbackMask(200, 200, []Point{{X: 60, Y: 60}}, []Point{{X: 60, Y: 60}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mask.Included(60, 60), test.ShouldBeFalse)

	// the positive ring outside the smaller negative disk survives:
	// r_neg = 20, r_pos = 30.
	test.That(t, mask.Included(60+25, 60), test.ShouldBeTrue)
	test.That(t, mask.Included(60+19, 60), test.ShouldBeFalse)
}

func TestFallbackRequiresPrompts(t *testing.T) {
	_, _, err := SynthesizeFallbackMask(100, 100, nil, nil)
	test.That(t, err, test.ShouldBeError, ErrNoPrompt)
}

func TestFallbackNegativeOnly(t *testing.T) {
	// negatives alone are a valid prompt set; the mask just stays empty.
	mask, score, err := SynthesizeFallbackMask(100, 100, nil, []Point{{X: 50, Y: 50}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, score, test.ShouldEqual, 0.5)
	test.That(t, mask.Area(), test.ShouldEqual, 0)
}

func TestFallbackRadiusUsesShortSide(t *testing.T) {
	// 300x100 image: radius comes from the short side, 0.15 * 100 = 15.
	mask, _, err := SynthesizeFallbackMask(300, 100, []Point{{X: 150, Y: 50}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mask.Included(150+15, 50), test.ShouldBeTrue)
	test.That(t, mask.Included(150+16, 50), test.ShouldBeFalse)
}
