package metadata

import "github.com/nullforge/aurora/engine/math"

/**
 * @brief A light as laid out in the lights SSBO. Position.W == 0 marks a
 * directional light (Position.XYZ is read as a direction); Position.W == 1
 * marks a point light. Color carries intensity in RGB; alpha is unused.
 */
type Light struct {
	Position math.Vec4
	Color    math.Vec4
}

// IsDirectional reports whether this light is directional ("sun").
func (l Light) IsDirectional() bool {
	return l.Position.W == 0
}

// NewDirectionalLight builds a directional light from a direction and
// linear-space RGB color/intensity.
func NewDirectionalLight(direction math.Vec3, color math.Vec3) Light {
	return Light{
		Position: math.Vec4{X: direction.X, Y: direction.Y, Z: direction.Z, W: 0},
		Color:    math.Vec4{X: color.X, Y: color.Y, Z: color.Z, W: 0},
	}
}

// NewPointLight builds a point light from a world position and
// linear-space RGB color/intensity.
func NewPointLight(position math.Vec3, color math.Vec3) Light {
	return Light{
		Position: math.Vec4{X: position.X, Y: position.Y, Z: position.Z, W: 1},
		Color:    math.Vec4{X: color.X, Y: color.Y, Z: color.Z, W: 0},
	}
}

// MaxPointLights caps the optional point lights carried in the lights SSBO.
const MaxPointLights = 10
