package taxonomy

// defaultRules is the built-in vocabulary, drawn from the terminology of
// residential condition surveys. Multi-word phrases earn a higher confidence
// than the single words they contain, so when both hit the same sentence the
// more specific rule survives deduplication.
var defaultRules = []KeywordRule{
	// Cracking.
	{CategoryStructural, "severe crack", SeverityHigh},
	{CategoryStructural, "structural crack", SeverityHigh},
	{CategoryStructural, "foundation crack", SeverityHigh},
	{CategoryStructural, "settlement crack", SeverityMedium},
	{CategoryStructural, "crack", SeverityMedium},
	{CategoryStructural, "cracked", SeverityMedium},
	{CategoryStructural, "cracking", SeverityMedium},
	{CategoryStructural, "fracture", SeverityMedium},
	{CategoryStructural, "fissure", SeverityMedium},
	{CategoryStructural, "split", SeverityLow},

	// Moisture and damp.
	{CategoryMoistureDamp, "rising damp", SeverityHigh},
	{CategoryMoistureDamp, "penetrating damp", SeverityHigh},
	{CategoryMoistureDamp, "water ingress", SeverityHigh},
	{CategoryMoistureDamp, "water damage", SeverityHigh},
	{CategoryMoistureDamp, "damp", SeverityMedium},
	{CategoryMoistureDamp, "moisture", SeverityMedium},
	{CategoryMoistureDamp, "efflorescence", SeverityMedium},
	{CategoryMoistureDamp, "condensation", SeverityLow},
	{CategoryMoistureDamp, "humidity", SeverityLow},
	{CategoryMoistureDamp, "wet", SeverityLow},

	// Electrical.
	{CategoryElectrical, "electrical hazard", SeverityHigh},
	{CategoryElectrical, "electrical fault", SeverityHigh},
	{CategoryElectrical, "exposed wiring", SeverityHigh},
	{CategoryElectrical, "exposed wire", SeverityHigh},
	{CategoryElectrical, "faulty wiring", SeverityHigh},
	{CategoryElectrical, "live wire", SeverityHigh},
	{CategoryElectrical, "wiring", SeverityMedium},
	{CategoryElectrical, "circuit", SeverityMedium},
	{CategoryElectrical, "fuse box", SeverityMedium},
	{CategoryElectrical, "fusebox", SeverityMedium},
	{CategoryElectrical, "electrical", SeverityMedium},
	{CategoryElectrical, "outlet", SeverityLow},
	{CategoryElectrical, "voltage", SeverityLow},
	{CategoryElectrical, "flickering", SeverityLow},

	// Plumbing and drainage.
	{CategoryPlumbing, "burst pipe", SeverityHigh},
	{CategoryPlumbing, "leaking pipe", SeverityHigh},
	{CategoryPlumbing, "sewage", SeverityHigh},
	{CategoryPlumbing, "blocked drain", SeverityMedium},
	{CategoryPlumbing, "plumbing", SeverityMedium},
	{CategoryPlumbing, "pipe", SeverityMedium},
	{CategoryPlumbing, "leak", SeverityMedium},
	{CategoryPlumbing, "drainage", SeverityMedium},
	{CategoryPlumbing, "drain", SeverityMedium},
	{CategoryPlumbing, "blockage", SeverityMedium},
	{CategoryPlumbing, "water pressure", SeverityLow},
	{CategoryPlumbing, "dripping", SeverityLow},

	// Mold and fungal growth.
	{CategoryMoldFungus, "black mold", SeverityHigh},
	{CategoryMoldFungus, "black mould", SeverityHigh},
	{CategoryMoldFungus, "mold", SeverityMedium},
	{CategoryMoldFungus, "mould", SeverityMedium},
	{CategoryMoldFungus, "mildew", SeverityMedium},
	{CategoryMoldFungus, "fungus", SeverityMedium},
	{CategoryMoldFungus, "fungal", SeverityMedium},
	{CategoryMoldFungus, "spores", SeverityLow},
	{CategoryMoldFungus, "spore", SeverityLow},

	// Corrosion.
	{CategoryCorrosionRust, "severe corrosion", SeverityHigh},
	{CategoryCorrosionRust, "corrosion", SeverityMedium},
	{CategoryCorrosionRust, "corroded", SeverityMedium},
	{CategoryCorrosionRust, "rust", SeverityMedium},
	{CategoryCorrosionRust, "metal decay", SeverityMedium},
	{CategoryCorrosionRust, "oxidation", SeverityLow},
	{CategoryCorrosionRust, "deterioration", SeverityLow},

	// Load-bearing structure.
	{CategoryGeneralStructural, "subsidence", SeverityHigh},
	{CategoryGeneralStructural, "structural damage", SeverityHigh},
	{CategoryGeneralStructural, "structural failure", SeverityHigh},
	{CategoryGeneralStructural, "structural movement", SeverityMedium},
	{CategoryGeneralStructural, "structural stress", SeverityMedium},
	{CategoryGeneralStructural, "load-bearing", SeverityMedium},
	{CategoryGeneralStructural, "load bearing", SeverityMedium},
	{CategoryGeneralStructural, "structural", SeverityMedium},
	{CategoryGeneralStructural, "foundation", SeverityMedium},
	{CategoryGeneralStructural, "settlement", SeverityMedium},
	{CategoryGeneralStructural, "deflection", SeverityMedium},
	{CategoryGeneralStructural, "beam", SeverityLow},
	{CategoryGeneralStructural, "support", SeverityLow},
}

// Default returns the built-in taxonomy. It panics only if defaultRules is
// itself invalid, which the package tests pin.
func Default() *Taxonomy {
	t, err := New(defaultRules)
	if err != nil {
		panic(err)
	}
	return t
}
