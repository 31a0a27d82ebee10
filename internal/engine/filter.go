package engine

import "github.com/roach88/savepipe/internal/model"

// FilterProperties applies save behaviors to the fields of one operation.
//
// Insert drops OmitOnInsert properties. Update drops OmitOnUpdate
// properties and key properties. Delete keeps key properties only. Fields
// unknown to meta are dropped. Input order is preserved and the input is
// never modified.
func FilterProperties(kind model.OperationKind, meta *model.EntityMetadata, fields model.Fields) (kept model.Fields, omitted []string) {
	kept = make(model.Fields, 0, len(fields))
	for _, f := range fields {
		if include(kind, meta, f.Name) {
			kept = append(kept, f)
		} else {
			omitted = append(omitted, f.Name)
		}
	}
	return kept, omitted
}

func include(kind model.OperationKind, meta *model.EntityMetadata, name string) bool {
	p, ok := meta.Property(name)
	if !ok {
		return false
	}
	switch kind {
	case model.Insert:
		return p.Save != model.OmitOnInsert
	case model.Update:
		return p.Save != model.OmitOnUpdate && !meta.IsKey(name)
	case model.Delete:
		return meta.IsKey(name)
	}
	return false
}
