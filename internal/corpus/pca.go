package corpus

// Weights maps a PCA component name (e.g. "primary_d", "tonal_pc1") to a
// per-feature weight, letting any PCA component be recomputed from a
// counterfactual feature vector (spec §3).
type Weights map[string]map[string]float64

// Recompute projects features onto the named component using the loaded
// weight row. Unknown components recompute to 0 — callers that need a
// guaranteed-known component should check ContainsComponent first.
func (w Weights) Recompute(component string, f Features) float64 {
	row, ok := w[component]
	if !ok {
		return 0
	}
	v := f.Vector()
	sum := 0.0
	for i, name := range FeatureNames {
		if weight, ok := row[name]; ok {
			sum += weight * v[i]
		}
	}
	return sum
}

func (w Weights) ContainsComponent(component string) bool {
	_, ok := w[component]
	return ok
}

// PrimaryDComponent is the weight-table key for the scalar primary_d
// component.
const PrimaryDComponent = "primary_d"

// domainComponentKeys maps a PCA domain ("tonal", "spectral", "rhythmic") to
// the weight-table keys of its three components, in pc1/pc2/pc3 order.
var domainComponentKeys = map[string][3]string{
	"tonal":    {"tonal_pc1", "tonal_pc2", "tonal_pc3"},
	"spectral": {"spectral_pc1", "spectral_pc2", "spectral_pc3"},
	"rhythmic": {"rhythmic_pc1", "rhythmic_pc2", "rhythmic_pc3"},
}

// DomainComponentKeys returns the three weight-table keys for a PCA domain.
func DomainComponentKeys(domain string) ([3]string, bool) {
	keys, ok := domainComponentKeys[domain]
	return keys, ok
}

// RecomputeDomain recomputes all three components of a PCA domain from
// features, returning them in pc1/pc2/pc3 order.
func (w Weights) RecomputeDomain(domain string, f Features) [3]float64 {
	keys, ok := domainComponentKeys[domain]
	if !ok {
		return [3]float64{}
	}
	return [3]float64{
		w.Recompute(keys[0], f),
		w.Recompute(keys[1], f),
		w.Recompute(keys[2], f),
	}
}

// RecomputePrimaryD recomputes the scalar primary_d component from features.
func (w Weights) RecomputePrimaryD(f Features) float64 {
	return w.Recompute(PrimaryDComponent, f)
}

// RecomputeAll rebuilds the full PCA struct from features using the loaded
// weight table, leaving any domain without configured weights at its
// zero value.
func (w Weights) RecomputeAll(f Features) PCA {
	return PCA{
		PrimaryD: w.RecomputePrimaryD(f),
		Tonal:    w.RecomputeDomain("tonal", f),
		Spectral: w.RecomputeDomain("spectral", f),
		Rhythmic: w.RecomputeDomain("rhythmic", f),
	}
}
