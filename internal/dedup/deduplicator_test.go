package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"biosensor-monitor/internal/models"
	"biosensor-monitor/internal/window"
)

var testKey = window.Key{DeviceID: "device-1", SensorType: models.SensorHeartRate}

func TestEvaluate_SingleAlertPerEpisode(t *testing.T) {
	// 持续违规的读数流只产生一条报警
	d := New()

	first := d.Evaluate(testKey, models.LevelCritical)
	assert.True(t, first.EmitAlert)
	assert.Equal(t, models.LevelNone, first.PreviousLevel)

	for i := 0; i < 10; i++ {
		decision := d.Evaluate(testKey, models.LevelCritical)
		assert.False(t, decision.EmitAlert)
		assert.False(t, decision.Resolved)
	}
}

func TestEvaluate_EscalationEmits(t *testing.T) {
	d := New()

	warning := d.Evaluate(testKey, models.LevelWarning)
	assert.True(t, warning.EmitAlert)

	critical := d.Evaluate(testKey, models.LevelCritical)
	assert.True(t, critical.EmitAlert)
	assert.Equal(t, models.LevelWarning, critical.PreviousLevel)
}

func TestEvaluate_DeescalationDoesNotEmit(t *testing.T) {
	// critical → warning 仍在违规中，更新级别但不发新报警
	d := New()

	d.Evaluate(testKey, models.LevelCritical)
	decision := d.Evaluate(testKey, models.LevelWarning)

	assert.False(t, decision.EmitAlert)
	assert.False(t, decision.Resolved)
	assert.Equal(t, models.LevelWarning, d.CurrentLevel(testKey))

	// 降级后再升级需要重新发报警
	again := d.Evaluate(testKey, models.LevelCritical)
	assert.True(t, again.EmitAlert)
}

func TestEvaluate_ResolvedClearsKey(t *testing.T) {
	d := New()

	d.Evaluate(testKey, models.LevelCritical)
	resolved := d.Evaluate(testKey, models.LevelNone)

	assert.False(t, resolved.EmitAlert)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, models.LevelCritical, resolved.PreviousLevel)
	assert.Equal(t, models.LevelNone, d.CurrentLevel(testKey))
	assert.Equal(t, 0, d.Len())
}

func TestEvaluate_NewEpisodeAfterResolution(t *testing.T) {
	// 违规解除后再次违规是新的违规期间，重新发报警
	d := New()

	d.Evaluate(testKey, models.LevelCritical)
	d.Evaluate(testKey, models.LevelNone)
	decision := d.Evaluate(testKey, models.LevelCritical)

	assert.True(t, decision.EmitAlert)
}

func TestEvaluate_NoneToNoneNoAction(t *testing.T) {
	d := New()

	decision := d.Evaluate(testKey, models.LevelNone)

	assert.False(t, decision.EmitAlert)
	assert.False(t, decision.Resolved)
}

func TestEvaluate_IndependentKeys(t *testing.T) {
	// 不同 key 的违规期间互不影响
	d := New()
	otherKey := window.Key{DeviceID: "device-2", SensorType: models.SensorHeartRate}

	first := d.Evaluate(testKey, models.LevelWarning)
	second := d.Evaluate(otherKey, models.LevelWarning)

	assert.True(t, first.EmitAlert)
	assert.True(t, second.EmitAlert)
	assert.Equal(t, 2, d.Len())
}

func TestRemoveDevice(t *testing.T) {
	d := New()
	otherKey := window.Key{DeviceID: "device-1", SensorType: models.SensorSpO2}

	d.Evaluate(testKey, models.LevelWarning)
	d.Evaluate(otherKey, models.LevelCritical)

	removed := d.RemoveDevice("device-1")

	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, d.Len())
}
