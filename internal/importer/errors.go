package importer

import (
	"errors"
	"fmt"

	"github.com/cleared-dev/tally/internal/model"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no decoder handles.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrNoTransactionsFound is returned when decoding yields no usable rows.
	ErrNoTransactionsFound = errors.New("no transactions found")
	// ErrHeaderDetection matches any *HeaderDetectionError.
	ErrHeaderDetection = errors.New("header row not detected")
	// ErrPasswordRequired is returned for encrypted files opened without a password.
	ErrPasswordRequired = errors.New("password required")
	// ErrIncorrectPassword is returned when the supplied password does not open the file.
	ErrIncorrectPassword = errors.New("incorrect password")
	// ErrUnsupportedEncryption is returned for encrypted files whose scheme
	// cannot be opened, such as AES-256 PDFs.
	ErrUnsupportedEncryption = errors.New("unsupported encryption")
)

// HeaderDetectionError carries the decoded table so the caller can collect a
// ColumnMapping and retry with ParseWithMapping.
type HeaderDetectionError struct {
	Table model.RawTable
}

func (e *HeaderDetectionError) Error() string {
	return fmt.Sprintf("%s in %d rows", ErrHeaderDetection, len(e.Table))
}

func (e *HeaderDetectionError) Is(target error) bool {
	return target == ErrHeaderDetection
}

// passwordError picks between ErrPasswordRequired and ErrIncorrectPassword.
func passwordError(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	return ErrIncorrectPassword
}
