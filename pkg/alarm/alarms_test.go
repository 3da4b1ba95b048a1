package alarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSync(t *testing.T) {
	a := &ActiveAlarms{}

	raised, cleared := a.Sync([]string{"E12: Low flow", "E3: Sensor"})
	assert.Equal(t, []string{"E12: Low flow", "E3: Sensor"}, raised)
	assert.Nil(t, cleared)

	raised, cleared = a.Sync([]string{"E3: Sensor", "E3: Sensor"})
	assert.Nil(t, raised)
	assert.Equal(t, []string{"E12: Low flow"}, cleared)
	assert.Equal(t, []string{"E3: Sensor"}, a.Active())

	raised, cleared = a.Sync([]string{"E3: Sensor"})
	assert.Nil(t, raised)
	assert.Nil(t, cleared)

	raised, cleared = a.Sync(nil)
	assert.Nil(t, raised)
	assert.Equal(t, []string{"E3: Sensor"}, cleared)
	assert.Empty(t, a.Active())
}

func TestClear(t *testing.T) {
	a := &ActiveAlarms{}
	assert.False(t, a.Clear())
	a.Sync([]string{"E1"})
	assert.True(t, a.Clear())
	assert.Empty(t, a.Active())
}
