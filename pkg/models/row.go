package models

// Row is a single extracted record keyed by field name.
type Row map[string]Value

// Clone returns a deep copy of the row. Binary payloads are copied so
// mutations on the clone never reach the original buffer.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		if v.Kind() == KindBinary {
			buf := make([]byte, len(v.BinaryValue()))
			copy(buf, v.BinaryValue())
			out[k] = Binary(buf)
			continue
		}
		out[k] = v
	}
	return out
}

// CloneRows deep-copies a row set.
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Fields returns the field names present in the row.
func (r Row) Fields() []string {
	fields := make([]string, 0, len(r))
	for k := range r {
		fields = append(fields, k)
	}
	return fields
}

// Project returns a copy of the row restricted to the given fields. An
// empty include list keeps every field.
func (r Row) Project(include []string) Row {
	if len(include) == 0 {
		return r.Clone()
	}
	out := make(Row, len(include))
	for _, f := range include {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}
