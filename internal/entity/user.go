package entity

// User is a verified identity. It is immutable once produced by the identity verifier.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle,omitempty"`
}
