package metadata

import "fmt"

/**
 * @brief A model is immutable after load: an identifier, its ordered
 * meshes, and an optional set of animations. A model is either fully
 * skinned (every mesh has WeightsOffset set) or fully static — never a
 * mix of both.
 */
type Model struct {
	ID         string
	Meshes     []*Mesh
	Animations []*Animation
}

// IsAnimated reports whether the model's first mesh carries skin weights;
// only that mesh is inspected, so Validate should be used to catch a
// mixed model at load time. A model with no meshes reports true when it
// has animations.
func (m *Model) IsAnimated() bool {
	if len(m.Meshes) == 0 {
		return len(m.Animations) > 0
	}
	return m.Meshes[0].IsAnimated()
}

// Validate enforces the fully-skinned-xor-fully-static invariant.
func (m *Model) Validate() error {
	if len(m.Meshes) == 0 {
		return nil
	}
	animated := m.Meshes[0].IsAnimated()
	for _, mesh := range m.Meshes[1:] {
		if mesh.IsAnimated() != animated {
			return fmt.Errorf("model %q mixes animated and static meshes", m.ID)
		}
	}
	if animated && len(m.Animations) == 0 {
		return fmt.Errorf("model %q has skinned meshes but no animations", m.ID)
	}
	return nil
}
