package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("TEST_STRING", "from-env")
		assert.Equal(t, "from-env", ParseString("TEST_STRING", "default"))
	})

	t.Run("missing falls back to default", func(t *testing.T) {
		assert.Equal(t, "default", ParseString("TEST_STRING_MISSING", "default"))
	})

	t.Run("empty value falls back to default", func(t *testing.T) {
		t.Setenv("TEST_STRING_EMPTY", "")
		assert.Equal(t, "default", ParseString("TEST_STRING_EMPTY", "default"))
	})
}

func TestParseInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("TEST_INT", 7))

	t.Setenv("TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, ParseInt("TEST_INT_BAD", 7))

	assert.Equal(t, 7, ParseInt("TEST_INT_MISSING", 7))
}

func TestParseBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	assert.True(t, ParseBool("TEST_BOOL", false))

	t.Setenv("TEST_BOOL_BAD", "yep")
	assert.True(t, ParseBool("TEST_BOOL_BAD", true))

	assert.False(t, ParseBool("TEST_BOOL_MISSING", false))
}

func TestParseDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "1m30s")
	assert.Equal(t, 90*time.Second, ParseDuration("TEST_DUR", time.Second))

	t.Setenv("TEST_DUR_BAD", "ninety")
	assert.Equal(t, time.Second, ParseDuration("TEST_DUR_BAD", time.Second))
}
