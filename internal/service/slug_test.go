package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "developpement-web", Slugify("Développement Web"))
	assert.Equal(t, "c-c-avance", Slugify("  C / C++ : avancé!! "))
	assert.Equal(t, "", Slugify("***"))
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("ab ", 80))), maxSlugLength)
}
