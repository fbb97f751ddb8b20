package physics

// Contact pairs two bodies touching during one step. Normal points from A
// to B. Valid only for the step that produced it.
type Contact struct {
	BodyA, BodyB BodyID
	Point        Vec3
	Normal       Vec3
	Depth        float64
	Impulse      float64
}

// CopyContacts returns an independent copy of cs.
func CopyContacts(cs []Contact) []Contact {
	if len(cs) == 0 {
		return nil
	}
	out := make([]Contact, len(cs))
	copy(out, cs)
	return out
}
