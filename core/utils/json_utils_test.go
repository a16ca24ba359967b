package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"simple", `xx"initialModels":[{"id":"a"}],"other":1`, `[{"id":"a"}]`, true},
		{"nested", `"initialModels":[[1,[2]],3] tail`, `[[1,[2]],3]`, true},
		{"bracket in string", `"initialModels":[{"name":"a]b\"["}]`, `[{"name":"a]b\"["}]`, true},
		{"missing key", `{"models":[]}`, "", false},
		{"unterminated", `"initialModels":[{"id":"a"}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONArray(tt.text, `"initialModels":`)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCookieValue(t *testing.T) {
	cookie := "a=1; token=abc.def; x_token=no"
	assert.Equal(t, "abc.def", CookieValue(cookie, "token"))
	assert.Equal(t, "1", CookieValue(cookie, "a"))
	assert.Equal(t, "no", CookieValue(cookie, "x_token"))
	assert.Equal(t, "", CookieValue(cookie, "missing"))
}
