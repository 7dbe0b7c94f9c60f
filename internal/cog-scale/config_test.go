package scale

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultScaleConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, time.Second, c.Interval)
	assert.Equal(t, 270.0, c.Geometry.BaseWidthMM)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := map[string]func(c *ScaleConfig){
		"zero factor":         func(c *ScaleConfig) { c.ScaleFactors[2] = 0 },
		"missing factor":      func(c *ScaleConfig) { c.ScaleFactors = c.ScaleFactors[:3] },
		"zero correction":     func(c *ScaleConfig) { c.CorrectionMultiplier = 0 },
		"negative correction": func(c *ScaleConfig) { c.CorrectionMultiplier = -1.2 },
		"zero width":          func(c *ScaleConfig) { c.Geometry.BaseWidthMM = 0 },
		"negative length":     func(c *ScaleConfig) { c.Geometry.BaseLengthMM = -250 },
		"unknown driver":      func(c *ScaleConfig) { c.Driver = "hx710" },
		"missing pins":        func(c *ScaleConfig) { c.DataPins = []string{"GPIO5"} },
		"missing addresses":   func(c *ScaleConfig) { c.Driver = DriverADS1115; c.I2CAddresses = nil },
		"zero interval":       func(c *ScaleConfig) { c.Interval = 0 },
		"negative retries":    func(c *ScaleConfig) { c.ReadRetries = -1 },
	}
	for name, modify := range tests {
		c := DefaultScaleConfig()
		modify(&c)
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, name)
	}

	// A zero span is allowed, the percentage just reads 0.
	c := DefaultScaleConfig()
	c.Geometry.WingPegSpanMM = 0
	assert.NoError(t, c.Validate())
}

func TestParseScaleConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
[cog-scale]
driver = "fake"
scale-factors = [1021.5, -998.0, 1003.2, 1010.0]
correction-multiplier = 1.02
wing-peg-span-mm = 180.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, goconfig.ConfigFileName), []byte(content), 0644))

	c, err := ParseScaleConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, DriverFake, c.Driver)
	assert.Equal(t, []float64{1021.5, -998.0, 1003.2, 1010.0}, c.ScaleFactors)
	assert.Equal(t, 1.02, c.CorrectionMultiplier)
	assert.Equal(t, 180.0, c.Geometry.WingPegSpanMM)
	assert.Equal(t, 270.0, c.Geometry.BaseWidthMM)
	assert.Equal(t, time.Second, c.Interval)
}

func TestCompareConfig(t *testing.T) {
	old := DefaultScaleConfig()

	same := DefaultScaleConfig()
	changed, diff := compareConfig(&old, &same)
	assert.False(t, changed)
	assert.Empty(t, diff)

	correction := DefaultScaleConfig()
	correction.CorrectionMultiplier = 0.98
	changed, diff = compareConfig(&old, &correction)
	assert.True(t, changed)
	assert.Empty(t, diff)

	pins := DefaultScaleConfig()
	pins.ButtonPins.Back = "GPIO24"
	_, diff = compareConfig(&old, &pins)
	assert.NotEmpty(t, diff)
}

func TestReloadWithFakeDriverOnlyAppliesCorrection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, goconfig.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[cog-scale]\ncorrection-multiplier = 1.0\n"), 0644))

	conf, err := loadConfig(dir, true)
	require.NoError(t, err)
	assert.Equal(t, DriverFake, conf.Driver)

	require.NoError(t, os.WriteFile(path, []byte("[cog-scale]\ncorrection-multiplier = 1.05\n"), 0644))
	reloaded, err := loadConfig(dir, true)
	require.NoError(t, err)

	var applied []float64
	restart := applyConfig(conf, reloaded, func(f float64) { applied = append(applied, f) })
	assert.False(t, restart)
	assert.Equal(t, []float64{1.05}, applied)
	assert.Equal(t, 1.05, conf.CorrectionMultiplier)

	// Without the override the file's driver differs from the running one.
	plain, err := loadConfig(dir, false)
	require.NoError(t, err)
	assert.True(t, applyConfig(conf, plain, func(float64) { t.Fatal("correction applied on restart") }))
}
