package aws

import (
	"errors"

	"github.com/aws/smithy-go"
)

// ErrorCode returns the AWS API error code carried by err, or "" when err is
// not an API error.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsErrorCode reports whether err is an AWS API error with the given code.
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}
