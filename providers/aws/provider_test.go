package aws

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "InvalidGroup.NotFound"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "InvalidVpcID.NotFound"}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "InvalidAllocationID.NotFound"})))

	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "UnauthorizedOperation"}))
	assert.False(t, isNotFound(errors.New("dial tcp: connection refused")))
	assert.False(t, isNotFound(nil))
}
