package corpus

// Resolution is one of the three calibration resolutions (spec GLOSSARY).
type Resolution string

const (
	ResolutionMicroscope      Resolution = "microscope"
	ResolutionMagnifyingGlass Resolution = "magnifying_glass"
	ResolutionBinoculars      Resolution = "binoculars"
)

// Discriminator is one of the four PCA discriminators calibration is keyed
// by (spec GLOSSARY).
type Discriminator string

const (
	DiscriminatorPrimaryD Discriminator = "primary_d"
	DiscriminatorTonal    Discriminator = "tonal"
	DiscriminatorSpectral Discriminator = "spectral"
	DiscriminatorRhythmic Discriminator = "rhythmic"
)

// CalibrationKey addresses a single calibration row (spec §3).
type CalibrationKey struct {
	Resolution    Resolution
	Discriminator Discriminator
}

// CalibrationEntry is one calibration row's fields (spec §3).
type CalibrationEntry struct {
	InnerRadius        float64
	OuterRadius        float64
	ScalingFactor      float64
	AchievedPercentage float64
}

// CalibrationTable is the full keyed calibration settings loaded at startup.
type CalibrationTable map[CalibrationKey]CalibrationEntry

// Lookup returns the entry for (resolution, discriminator) and whether it
// was present.
func (t CalibrationTable) Lookup(resolution Resolution, discriminator Discriminator) (CalibrationEntry, bool) {
	e, ok := t[CalibrationKey{Resolution: resolution, Discriminator: discriminator}]
	return e, ok
}
