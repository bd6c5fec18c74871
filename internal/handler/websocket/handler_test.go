package websocket

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://hostel.example.com/", " http://localhost:3000"})

	cases := []struct {
		origin string
		want   bool
	}{
		{"https://hostel.example.com", true},
		{"http://localhost:3000", true},
		{"https://evil.example.com", false},
		{"", true},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/ws/chat", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, check(r), "origin %q", tc.origin)
	}

	assert.True(t, originChecker(nil)(httptest.NewRequest("GET", "/ws/chat", nil)), "未配置时接受任意来源")
}
