package validator

import (
	"errors"
	"strings"
	"testing"
)

func TestAll(t *testing.T) {
	if err := All(nil, nil); err != nil {
		t.Errorf("All(nil, nil) = %v", err)
	}
	err := All(errors.New("first"), nil, errors.New("second"))
	if err == nil {
		t.Fatal("want an error")
	}
	if !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Errorf("errors were dropped: %v", err)
	}
}

func TestChecks(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "not empty", err: NotEmpty("x", "name")},
		{name: "empty", err: NotEmpty("", "name"), want: "name must not be empty"},
		{name: "unique", err: NoDuplicates([]int{1, 2}, "ids")},
		{name: "duplicate", err: NoDuplicates([]int{1, 2, 1}, "ids"), want: "ids contains duplicate value: 1"},
		{name: "allowed", err: MatchesAllowed("a", []string{"a", "b"}, "mode")},
		{name: "not allowed", err: MatchesAllowed("c", []string{"a", "b"}, "mode"), want: "mode must be one of [a b], got c"},
		{name: "map", err: Map([]string{"a", ""}, NotEmpty, "dirs"), want: "dirs[1] must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want == "" {
				if tt.err != nil {
					t.Errorf("unexpected error: %v", tt.err)
				}
				return
			}
			if tt.err == nil || !strings.Contains(tt.err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", tt.err, tt.want)
			}
		})
	}
}
