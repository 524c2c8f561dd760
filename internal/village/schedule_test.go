package village

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRunAt(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2026, 10, 19, 2, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 19, 3, 0, 0, 0, loc), nextRunAt(now, loc, 3))
	assert.Equal(t, time.Date(2026, 10, 20, 2, 0, 0, 0, loc), nextRunAt(now, loc, 2))

	// 整点本身视为已过
	at := time.Date(2026, 10, 19, 3, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 20, 3, 0, 0, 0, loc), nextRunAt(at, loc, 3))

	// 输入时间的时区不影响结果
	assert.Equal(t, time.Date(2026, 10, 19, 3, 0, 0, 0, loc), nextRunAt(now.UTC(), loc, 3))
}
