package main

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// viewerPath maps elapsed time to a viewer position.
type viewerPath func(elapsed time.Duration) mgl32.Vec3

// newViewerPath builds a scripted fly-over. speed is in voxels per second.
func newViewerPath(kind string, radius, speed, height float64) (viewerPath, error) {
	switch kind {
	case "circle":
		if radius <= 0 {
			return nil, fmt.Errorf("circle path needs a positive radius, got %g", radius)
		}
		return func(elapsed time.Duration) mgl32.Vec3 {
			angle := speed * elapsed.Seconds() / radius
			return mgl32.Vec3{
				float32(radius * math.Cos(angle)),
				float32(height),
				float32(radius * math.Sin(angle)),
			}
		}, nil
	case "line":
		return func(elapsed time.Duration) mgl32.Vec3 {
			return mgl32.Vec3{float32(speed * elapsed.Seconds()), float32(height), 0}
		}, nil
	case "still":
		return func(time.Duration) mgl32.Vec3 {
			return mgl32.Vec3{0, float32(height), 0}
		}, nil
	default:
		return nil, fmt.Errorf("unknown viewer path %q (want circle, line or still)", kind)
	}
}
