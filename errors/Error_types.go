package errors

// ERR is the category of an error.
type ERR int32

//nolint:revive,stylecheck // error codes mirror the constant names used in logs and metrics
const (
	ERR_UNKNOWN             ERR = 0
	ERR_INVALID_ARGUMENT    ERR = 1
	ERR_NOT_FOUND           ERR = 3
	ERR_PROCESSING          ERR = 4
	ERR_CONFIGURATION       ERR = 5
	ERR_CONTEXT_CANCELED    ERR = 7
	ERR_CONFLICT            ERR = 10
	ERR_BLOB_NOT_FOUND      ERR = 20
	ERR_BLOB_EXISTS         ERR = 21
	ERR_REF_NOT_FOUND       ERR = 22
	ERR_NAMESPACE_NOT_FOUND ERR = 23
	ERR_SERVICE_ERROR       ERR = 52
	ERR_STORAGE_UNAVAILABLE ERR = 60
	ERR_STORAGE_ERROR       ERR = 62
)

var ERR_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INVALID_ARGUMENT",
	3:  "NOT_FOUND",
	4:  "PROCESSING",
	5:  "CONFIGURATION",
	7:  "CONTEXT_CANCELED",
	10: "CONFLICT",
	20: "BLOB_NOT_FOUND",
	21: "BLOB_EXISTS",
	22: "REF_NOT_FOUND",
	23: "NAMESPACE_NOT_FOUND",
	52: "SERVICE_ERROR",
	60: "STORAGE_UNAVAILABLE",
	62: "STORAGE_ERROR",
}

func (c ERR) String() string {
	if name, ok := ERR_name[int32(c)]; ok {
		return name
	}

	return "UNKNOWN"
}

var (
	ErrInvalidArgument    = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrNotFound           = New(ERR_NOT_FOUND, "not found")
	ErrProcessing         = New(ERR_PROCESSING, "error processing")
	ErrConfiguration      = New(ERR_CONFIGURATION, "configuration error")
	ErrContextCanceled    = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrConflict           = New(ERR_CONFLICT, "conflict")
	ErrBlobNotFound       = New(ERR_BLOB_NOT_FOUND, "blob not found")
	ErrBlobExists         = New(ERR_BLOB_EXISTS, "blob exists")
	ErrRefNotFound        = New(ERR_REF_NOT_FOUND, "ref not found")
	ErrNamespaceNotFound  = New(ERR_NAMESPACE_NOT_FOUND, "namespace not found")
	ErrServiceError       = New(ERR_SERVICE_ERROR, "service error")
	ErrStorageUnavailable = New(ERR_STORAGE_UNAVAILABLE, "storage unavailable")
	ErrStorageError       = New(ERR_STORAGE_ERROR, "storage error")
)

// errors initialization functions

func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewConflictError(message string, params ...interface{}) error {
	return New(ERR_CONFLICT, message, params...)
}
func NewBlobNotFoundError(message string, params ...interface{}) error {
	return New(ERR_BLOB_NOT_FOUND, message, params...)
}
func NewBlobExistsError(message string, params ...interface{}) error {
	return New(ERR_BLOB_EXISTS, message, params...)
}
func NewRefNotFoundError(message string, params ...interface{}) error {
	return New(ERR_REF_NOT_FOUND, message, params...)
}
func NewNamespaceNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NAMESPACE_NOT_FOUND, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewStorageUnavailableError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_UNAVAILABLE, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
