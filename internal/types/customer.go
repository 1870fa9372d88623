package types

// Customer is the canonical record produced by the transformer and
// upserted by the loader, keyed by ExternalID.
//
// UpdatedAt holds the source timestamp text unchanged; the store casts it
// to its column type on write.
type Customer struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	UpdatedAt  string `json:"updated_at"`
}
