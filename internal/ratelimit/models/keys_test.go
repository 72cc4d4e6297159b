package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Format(t *testing.T) {
	assert.Equal(t, "user:1234", NewKey(ScopeUser, "1234").String())
	assert.Equal(t, "guild:9876", NewKey(ScopeGuild, "9876").String())
}

func TestKey_GlobalIgnoresIdentifier(t *testing.T) {
	assert.Equal(t, "global:all", NewKey(ScopeGlobal, "whatever").String())
	assert.Equal(t, NewKey(ScopeGlobal, "a").String(), NewKey(ScopeGlobal, "b").String())
}

func TestKey_SanitizationPreventsCollisions(t *testing.T) {
	// "user:admin" vs "user_admin" vs "user_:admin" must all stay distinct.
	a := NewKey(ScopeUser, "x:admin").String()
	b := NewKey(ScopeUser, "x_admin").String()
	c := NewKey(ScopeUser, "x_:admin").String()

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}
