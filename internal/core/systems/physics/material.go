package physics

const (
	DefaultMaterialName = "defaultMaterial"
	StaticMaterialName  = "staticMaterial"
)

// MaterialUnset marks a material coefficient that defers to the engine
// default contact parameters.
const MaterialUnset = -1

// Material is a named surface. Registered once, immutable afterwards.
// When two bodies touch and no contact material is registered for their
// pair, each coefficient set on both materials combines as the product of
// the two. Negative coefficients are unset.
type Material struct {
	Name        string
	Friction    float64
	Restitution float64
}

// NewMaterial returns a material with both coefficients unset.
func NewMaterial(name string) Material {
	return Material{Name: name, Friction: MaterialUnset, Restitution: MaterialUnset}
}

// ContactMaterialSpec holds the parameters used when two materials touch.
type ContactMaterialSpec struct {
	Friction                       float64
	Restitution                    float64
	ContactEquationStiffness       float64
	ContactEquationRelaxation      float64
	FrictionEquationStiffness      float64
	FrictionEquationRegularization float64
}

// MaterialPair is an order-independent key for a pair of material names.
type MaterialPair [2]string

func NewMaterialPair(a, b string) MaterialPair {
	if b < a {
		a, b = b, a
	}
	return MaterialPair{a, b}
}
