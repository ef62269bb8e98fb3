package store

// Validate checks the registry invariants and the dependency graph, and
// reports edges recorded against an older version of their target or
// pointing at a removed file.
func (w *Workspace) Validate() (ValidateResult, error) {
	if err := w.Registry.Validate(); err != nil {
		return ValidateResult{}, err
	}

	res := ValidateResult{Files: len(w.Registry.Records)}
	for _, name := range w.Registry.Names() {
		rec, _ := w.Registry.Get(name)
		if rec.IsObsolete() {
			res.Obsolete++
			continue
		}
		for _, dep := range rec.Dependencies {
			res.Edges++
			target, _ := w.Registry.Get(dep.Filename)
			switch {
			case target.IsObsolete():
				res.Stale = append(res.Stale, StaleEdge{
					File:       name,
					Dependency: dep.Filename,
					Recorded:   dep.Timestamp.String(),
					Removed:    true,
				})
			case target.Current.Timestamp != dep.Timestamp:
				res.Stale = append(res.Stale, StaleEdge{
					File:       name,
					Dependency: dep.Filename,
					Recorded:   dep.Timestamp.String(),
					Current:    target.Current.Timestamp.String(),
				})
			}
		}
	}
	return res, nil
}
