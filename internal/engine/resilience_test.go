package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStateSignal(t *testing.T) {
	tests := []struct {
		payload string
		id      string
		status  bool
		ok      bool
	}{
		{"10.0.0.1:8080:on", "10.0.0.1:8080", true, true},
		{"10.0.0.1:8080:off", "10.0.0.1:8080", false, true},
		{"[::1]:1080:true", "[::1]:1080", true, true},
		{"proxy.example:3128:OFF", "proxy.example:3128", false, true},
		{"10.0.0.1:8080:maybe", "", false, false},
		{"10.0.0.1:8080:", "", false, false},
		{":on", "", false, false},
		{"garbage", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			id, status, ok := parseStateSignal(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.status, status)
		})
	}
}
