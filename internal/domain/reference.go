package domain

// TargetTable maps an age marker ("16+") to its target concept emphasis
type TargetTable map[string]ConceptVector

// AliasTable maps a core concept to finer-grained alias concepts and their
// propagation coefficients in (0,1]
type AliasTable map[string]map[string]float64

// AliasesOf returns the aliases registered for a core concept.
// The result is never nil and must not be mutated.
func (t AliasTable) AliasesOf(core string) map[string]float64 {
	if a, ok := t[core]; ok {
		return a
	}
	return map[string]float64{}
}

// Tables bundles the static reference data a scoring pass needs
type Tables struct {
	Targets TargetTable
	Aliases AliasTable
}
