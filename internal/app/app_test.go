package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	v := map[string]any{"cidr": "10.0.0.0/31", "length": 31}

	var compact bytes.Buffer
	require.NoError(t, WriteJSON(&compact, v, false))
	assert.Equal(t, "{\"cidr\":\"10.0.0.0/31\",\"length\":31}\n", compact.String())

	var pretty bytes.Buffer
	require.NoError(t, WriteJSON(&pretty, v, true))
	assert.Equal(t, "{\n  \"cidr\": \"10.0.0.0/31\",\n  \"length\": 31\n}\n", pretty.String())
}
