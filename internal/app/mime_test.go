package app

import (
	"mime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServedTypesRegistered(t *testing.T) {
	for ext, want := range servedTypes {
		got := mime.TypeByExtension(ext)
		base := strings.SplitN(want, ";", 2)[0]
		assert.True(t, strings.HasPrefix(got, base), "%s => %s", ext, got)
	}
}
