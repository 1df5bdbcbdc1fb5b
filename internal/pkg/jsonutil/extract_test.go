package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"plain", `{"signal":"BUY"}`, `{"signal":"BUY"}`, true},
		{"prose", `here you go: {"signal":"HOLD","reasoning":"wait {for} it"} thanks`, `{"signal":"HOLD","reasoning":"wait {for} it"}`, true},
		{"fence", "analysis...\n```json\n{\"signal\":\"SELL\",\"memory\":[\"a\"]}\n```\n", `{"signal":"SELL","memory":["a"]}`, true},
		{"escaped quote", `{"reasoning":"say \"}\" twice"}`, `{"reasoning":"say \"}\" twice"}`, true},
		{"unbalanced", `{"signal":"BUY"`, "", false},
		{"empty", "  ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractObject(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
