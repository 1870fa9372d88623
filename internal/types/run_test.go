package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestPhaseOrder(t *testing.T) {
	ordered := []Phase{PhaseInit, PhaseDownload, PhaseExtract, PhaseTransform, PhaseLoad}
	for i := 0; i < len(ordered)-1; i++ {
		assert.True(t, ordered[i].Before(ordered[i+1]), "%s should come before %s", ordered[i], ordered[i+1])
		assert.False(t, ordered[i+1].Before(ordered[i]))
	}
	assert.False(t, PhaseLoad.Before(PhaseLoad))
}

func TestPhaseValid(t *testing.T) {
	assert.True(t, PhaseTransform.Valid())
	assert.False(t, Phase("PUBLISH").Valid())
	assert.False(t, Phase("").Valid())
}
