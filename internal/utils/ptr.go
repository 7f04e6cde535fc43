package utils

// Ptr returns a pointer to v, for APIs that take optional values as
// pointers.
func Ptr[T any](v T) *T {
	return &v
}
