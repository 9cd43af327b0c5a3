package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "perpexec:trader:live:commands", CommandQueueKey("live"))
	assert.Equal(t, "perpexec:trader:live:status", StatusKey(" live "))
	assert.Equal(t, "perpexec:trader:status", StatusKey(""))
}
