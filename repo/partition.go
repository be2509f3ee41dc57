package repo

// partitionKeyFor composes the write-time partition key from the type tag and
// the scheme fields' current values on item. Pure for fixed scheme and values.
func (r *Repository[T, P]) partitionKeyFor(item P) string {
	if len(r.scheme) == 0 {
		return r.typeTag
	}
	fields := map[string]string{}
	if pf, ok := any(item).(PartitionFielder); ok {
		fields = pf.PartitionFields()
	}
	key := r.typeTag
	for _, name := range r.scheme {
		key += "/" + fields[name]
	}
	return key
}

// partitionKeyFromParams composes the read-time partition key from a
// caller-supplied mapping. A nil mapping yields the bare type tag; a non-nil
// mapping must supply every scheme field.
func (r *Repository[T, P]) partitionKeyFromParams(params map[string]string) (string, error) {
	key := r.typeTag
	if params == nil || len(r.scheme) == 0 {
		return key, nil
	}
	for _, name := range r.scheme {
		value, ok := params[name]
		if !ok {
			return "", &MissingParameterError{Field: name}
		}
		key += "/" + value
	}
	return key, nil
}

// validateScheme checks the declared scheme against the record type's
// partition fields, so a scheme referencing a nonexistent field fails at
// construction rather than on first write.
func validateScheme[T any, P Doc[T]](scheme []string) error {
	if len(scheme) == 0 {
		return nil
	}
	probe := P(new(T))
	pf, ok := any(probe).(PartitionFielder)
	if !ok {
		return &ConfigError{
			Field:  "PartitionProperties",
			Reason: "record type does not implement PartitionFielder",
		}
	}
	fields := pf.PartitionFields()
	for _, name := range scheme {
		if _, ok := fields[name]; !ok {
			return &ConfigError{
				Field:  "PartitionProperties",
				Reason: "record type declares no partition field " + name,
			}
		}
	}
	return nil
}
