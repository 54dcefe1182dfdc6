package pipeline

import "dream/host/feature"

// FromFeature assembles f's opaque Stages/Translators into a ready-to-run
// Pipeline. Elements of the wrong concrete type are a registration bug
// (the Service scaffold is the only writer of feature.Feature.Stages) and
// are dropped rather than panicking the request path.
func FromFeature(f *feature.Feature) *Pipeline {
	p := &Pipeline{MainIndex: f.MainIndex}
	for _, s := range f.Stages {
		if stage, ok := s.(Stage); ok {
			p.Stages = append(p.Stages, stage)
		}
	}
	for _, t := range f.Translators {
		if translator, ok := t.(ExceptionTranslator); ok {
			p.Translators = append(p.Translators, translator)
		}
	}
	return p
}
