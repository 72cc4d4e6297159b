package domainerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the gate error primitives.
//
// Justification: error codes drive verdict mapping at the pipeline boundary.
// These tests pin the invariants "wrapped domain errors preserve original code"
// and "errors.Is matches by code".
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeRateLimited, Message: "too many commands"}
		s.Equal("too many commands", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodePermissionDenied}
		s.Equal("permission_denied", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	inner := errors.New("store unavailable")
	err := &Error{Code: CodeInternal, Message: "gate error", Err: inner}
	s.Equal(inner, errors.Unwrap(err))
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		a := &Error{Code: CodeTwoFactorRequired, Message: "delete-server"}
		b := &Error{Code: CodeTwoFactorRequired, Message: "change-plan"}
		s.True(errors.Is(a, b))
	})

	s.Run("does not match different codes", func() {
		a := &Error{Code: CodeRateLimited}
		b := &Error{Code: CodeAuthFailureLimit}
		s.False(errors.Is(a, b))
	})
}

func (s *DomainErrorsSuite) TestWrapPreservesCode() {
	inner := New(CodeConfiguration, "signing key missing")
	wrapped := Wrap(inner, CodeInternal, "token issuance failed")
	s.True(HasCode(wrapped, CodeConfiguration))
	s.False(HasCode(wrapped, CodeInternal))
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.True(HasCode(New(CodeNotFound, "no such user"), CodeNotFound))
	s.False(HasCode(errors.New("plain"), CodeNotFound))
	s.False(HasCode(nil, CodeNotFound))
}
