package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectURI(t *testing.T) {
	bucket, key, err := parseObjectURI("s3://my-bucket/some/deep/key")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "some/deep/key", key)

	_, _, err = parseObjectURI("s3://only-bucket")
	assert.Error(t, err)

	for _, uri := range []string{"s3://", "s3:///key"} {
		_, _, err := parseObjectURI(uri)
		assert.Error(t, err, uri)
	}
}
