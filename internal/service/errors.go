package service

import "errors"

var (
	ErrDatasetNotFound    = errors.New("dataset not found")
	ErrInvalidUpload      = errors.New("invalid upload")
	ErrUploadTooLarge     = errors.New("file size exceeds the upload limit")
	ErrTooManyUploads     = errors.New("too many concurrent uploads")
	ErrReportFailed       = errors.New("failed to generate PDF report")
	ErrOriginalMissing    = errors.New("original upload is no longer stored")
	ErrUsernameExists     = errors.New("username already exists")
	ErrUsernameReserved   = errors.New("username is reserved")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrCannotDeleteSelf   = errors.New("cannot delete self")
)

// invalidUploadError carries the user-facing reason an upload was rejected.
// It matches ErrInvalidUpload and unwraps to the analysis error, if any.
type invalidUploadError struct {
	reason string
	err    error
}

func (e *invalidUploadError) Error() string { return e.reason }

func (e *invalidUploadError) Unwrap() error { return e.err }

func (e *invalidUploadError) Is(target error) bool { return target == ErrInvalidUpload }

func rejectUpload(reason string, err error) error {
	return &invalidUploadError{reason: reason, err: err}
}
