package error

// GenericError is implemented by all typed errors in this package so the
// REST layer can map them to an HTTP status and machine-readable code.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}
