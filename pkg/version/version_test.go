package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromSettings(t *testing.T) {
	v := fromSettings([]debug.BuildSetting{
		{Key: "GOOS", Value: "linux"},
		{Key: "vcs.revision", Value: "3f2c0f0b7a11d9e8c7b6a5f4e3d2c1b0a9f8e7d6"},
		{Key: "vcs.time", Value: "2025-01-27T20:36:40Z"},
	})
	assert.Equal(t, Info{Commit: "3f2c0f0b7a11d9e8c7b6a5f4e3d2c1b0a9f8e7d6", Time: "2025-01-27T20:36:40Z"}, v)
	assert.Equal(t, "3f2c0f0", v.Short())
	assert.Equal(t, "dev", Info{}.Short())
	assert.Equal(t, "abc", Info{Commit: "abc"}.Short())
}

func TestVersion(t *testing.T) {
	assert.JSONEq(t, `{"commit":"`+Current.Commit+`","time":"`+Current.Time+`"}`, Version)
}
