package testing

import (
	"os"
	stdtesting "testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareSetsTestEnvironment(t *stdtesting.T) {
	Prepare()
	assert.Equal(t, "1", os.Getenv(TestModeEnv))
	for key := range fallbacks {
		assert.NotEmpty(t, os.Getenv(key), key)
	}
}
