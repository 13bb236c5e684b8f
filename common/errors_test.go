package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessagesExact(t *testing.T) {
	d := NewIndexDescriptor(1, 2)

	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			"AlreadyConstrained",
			NewAlreadyConstrained(d),
			"Unable to add index :label[1](property[2]) : Already constrained CONSTRAINT ON ( n:label[1] ) ASSERT n.property[2] IS UNIQUE.",
		},
		{
			"AlreadyIndexed",
			NewAlreadyIndexed(d),
			"Unable to add index :label[1](property[2]) : index already exists.",
		},
		{
			"NoSuchIndex",
			NewNoSuchIndex(d),
			"Unable to drop index on :label[1](property[2]): No such INDEX ON :label[1](property[2]).",
		},
		{
			"ConstraintIndexDropRejected",
			NewConstraintIndexDropRejected(),
			"Constraint indexes cannot be dropped directly, instead drop the owning uniqueness constraint.",
		},
	}

	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Errorf("%s: Error() = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestIsExpectedPopulationNoise(t *testing.T) {
	d := NewIndexDescriptor(1, 2)

	noisy := []error{
		NewIndexEntryConflict(d, "v", []uint64{1}),
		NewIndexProxyAlreadyClosed(d),
		fmt.Errorf("wrapped: %w", NewIndexProxyAlreadyClosed(d)),
	}
	for _, err := range noisy {
		if !IsExpectedPopulationNoise(err) {
			t.Errorf("IsExpectedPopulationNoise(%v) = false, want true", err)
		}
	}

	notNoisy := []error{
		NewIndexPopulationFailed(d, fmt.Errorf("disk full")),
		NewAlreadyIndexed(d),
		fmt.Errorf("plain error"),
		nil,
	}
	for _, err := range notNoisy {
		if IsExpectedPopulationNoise(err) {
			t.Errorf("IsExpectedPopulationNoise(%v) = true, want false", err)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	d := NewIndexDescriptor(1, 2)
	cause := fmt.Errorf("disk full")
	err := NewIndexPopulationFailed(d, cause)

	var e *Error
	if ok := errors.As(err, &e); !ok {
		t.Fatal("errors.As failed to match *Error")
	}
	if e.Kind != IndexPopulationFailed {
		t.Errorf("Kind = %v, want IndexPopulationFailed", e.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is failed to reach the wrapped cause through Unwrap")
	}
}
