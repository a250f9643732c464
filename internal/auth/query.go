package auth

// OwnerKey is the query field holding the owning user's id.
const OwnerKey = "user_id"

// Query is a storage-agnostic set of equality filters for list and read
// operations. Stores translate it into their own query language.
type Query map[string]any

// Clone returns a shallow copy so callers can extend a base query safely.
func (q Query) Clone() Query {
	out := make(Query, len(q)+1)
	for k, v := range q {
		out[k] = v
	}
	return out
}
