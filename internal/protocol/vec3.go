package protocol

// Vec3 is a 3D single-precision position/direction used by field and
// skill packet bodies.
type Vec3 struct {
	X, Y, Z float32
}
