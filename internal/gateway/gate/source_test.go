package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandleRow(t *testing.T) {
	row := []string{"1717200000", "123456.7", "101.5", "102.0", "99.0", "100.0", "1234.5", "true"}
	c, ok := parseCandleRow(row, time.Hour)
	require.True(t, ok)
	assert.Equal(t, int64(1717200000000), c.OpenTime)
	assert.Equal(t, int64(1717200000000+3600000-1), c.CloseTime)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 102.0, c.High)
	assert.Equal(t, 99.0, c.Low)
	assert.Equal(t, 101.5, c.Close)
	assert.Equal(t, 1234.5, c.Volume)

	// 未收盘的窗口直接丢弃。
	row[7] = "false"
	_, ok = parseCandleRow(row, time.Hour)
	assert.False(t, ok)

	_, ok = parseCandleRow([]string{"1717200000", "1", "2"}, time.Hour)
	assert.False(t, ok)
	_, ok = parseCandleRow([]string{"abc", "1", "2", "3", "4", "5"}, time.Hour)
	assert.False(t, ok)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	final := cfg.withDefaults()
	assert.Equal(t, "https://api.gateio.ws/api/v4", final.RESTBaseURL)
	assert.Equal(t, 15*time.Second, final.HTTPTimeout)
}

func TestNewRejectsBadProxy(t *testing.T) {
	_, err := New(Config{ProxyEnabled: true, RESTProxyURL: "://bad"})
	assert.Error(t, err)
}
