package aws_test

import (
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"golang.org/x/xerrors"

	awsclient "github.com/yuxishi/aws-quota-manager/internal/aws"
)

func TestErrorCode(t *testing.T) {
	t.Parallel()

	apiErr := &smithy.GenericAPIError{Code: "SubscriptionRequiredException", Message: "no plan"}
	wrapped := xerrors.Errorf("describe severity levels: %w", apiErr)

	assert.Equal(t, "SubscriptionRequiredException", awsclient.ErrorCode(wrapped))
	assert.True(t, awsclient.IsErrorCode(wrapped, "SubscriptionRequiredException"))
	assert.False(t, awsclient.IsErrorCode(xerrors.New("boom"), "SubscriptionRequiredException"))
	assert.False(t, awsclient.IsErrorCode(nil, ""))
}

func TestRoleARN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "arn:aws:iam::123456789000:role/ServiceQuotaManager", awsclient.RoleARN("123456789000", "ServiceQuotaManager"))
}
