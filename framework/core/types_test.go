package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestOption_Some(t *testing.T) {
	opt := Some(42)
	if !opt.IsSome() {
		t.Error("Expected Some to be Some")
	}
	if opt.IsNone() {
		t.Error("Expected Some to not be None")
	}
	if opt.Value() != 42 {
		t.Errorf("Expected 42, got %d", opt.Value())
	}
}

func TestOption_None(t *testing.T) {
	opt := None[int]()
	if opt.IsSome() {
		t.Error("Expected None to not be Some")
	}
	if opt.ValueOr(7) != 7 {
		t.Errorf("Expected default 7, got %d", opt.ValueOr(7))
	}

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on Value() of None")
		}
	}()
	_ = opt.Value()
}

func TestFrameworkError_Is(t *testing.T) {
	err := NewError(ErrValidation, "amount below minimum")
	if !errors.Is(err, &FrameworkError{Code: ErrValidation}) {
		t.Error("Expected errors.Is to match by code")
	}
	if errors.Is(err, &FrameworkError{Code: ErrPersistence}) {
		t.Error("Expected errors.Is to not match other code")
	}
}

func TestHasCode(t *testing.T) {
	inner := NewError(ErrPersistence, "insert failed")
	outer := Wrap(inner, ErrValidation, "execute")
	wrapped := fmt.Errorf("handler: %w", outer)

	if !HasCode(wrapped, ErrValidation) {
		t.Error("Expected outer code to be found")
	}
	if !HasCode(wrapped, ErrPersistence) {
		t.Error("Expected inner code to be found")
	}
	if HasCode(wrapped, ErrConfiguration) {
		t.Error("Expected missing code to not be found")
	}
	if CodeOf(wrapped) != ErrValidation {
		t.Errorf("Expected %s, got %s", ErrValidation, CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("Expected empty code for plain error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, ErrTransport, "publish") != nil {
		t.Error("Expected Wrap(nil) to return nil")
	}
	if WrapWithCode(nil, ErrTransport) != nil {
		t.Error("Expected WrapWithCode(nil) to return nil")
	}
}
