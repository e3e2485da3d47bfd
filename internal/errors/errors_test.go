package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindMalformed, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindMalformed, "invalid input")
	if GetKind(err) != KindMalformed {
		t.Errorf("expected KindMalformed, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "failed")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestInvariantReportsViolatedLawInMessageAndGetter(t *testing.T) {
	err := Invariant(KindMalformed, "filter", "negate: operand is not a filter")
	const want = "filter invariant violated: negate: operand is not a filter"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if GetInvariant(err) != "filter" {
		t.Errorf("expected invariant \"filter\", got %q", GetInvariant(err))
	}
}

func TestInvariantfFormatsMessage(t *testing.T) {
	err := Invariantf(KindAccounting, "counter-accounting", "flow_removed for match not marked to_be_deleted: %s priority=%d", "srcip=10.0.0.1", 1)
	const want = "counter-accounting invariant violated: flow_removed for match not marked to_be_deleted: srcip=10.0.0.1 priority=1"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if GetKind(err) != KindAccounting {
		t.Errorf("expected KindAccounting, got %v", GetKind(err))
	}
}

func TestGetInvariantIsEmptyForOrdinaryErrors(t *testing.T) {
	if GetInvariant(Errorf(KindMalformed, "unknown atom kind %q", "bogus")) != "" {
		t.Errorf("expected no invariant on a plain Errorf error")
	}
	if GetInvariant(errors.New("std error")) != "" {
		t.Errorf("expected no invariant on a non-pyretic error")
	}
}
