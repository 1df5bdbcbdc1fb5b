package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))
	// 每个汉字 3 字节，不应截断在字符中间
	assert.Equal(t, "下单...", Truncate("下单失败", 7))
}
