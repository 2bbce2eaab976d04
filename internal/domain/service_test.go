package domain

import (
	"context"
	"reflect"
	"testing"
)

type namedService struct {
	name string
}

func (s *namedService) Name() string                    { return s.name }
func (s *namedService) Description() string             { return s.name }
func (s *namedService) Requirements() RequirementSchema { return RequirementSchema{} }

func (s *namedService) Execute(_ context.Context, task *Task) (*TaskResult, error) {
	return DoneResult(task, nil), nil
}

func TestServiceRegistryLookupAndNames(t *testing.T) {
	registry, err := NewServiceRegistry(
		&namedService{name: "zeta"},
		&namedService{name: "alpha"},
	)
	if err != nil {
		t.Fatalf("NewServiceRegistry: %v", err)
	}

	if _, ok := registry.Lookup("alpha"); !ok {
		t.Error("alpha not found")
	}
	if _, ok := registry.Lookup("ghost"); ok {
		t.Error("ghost found")
	}
	if got, want := registry.Names(), []string{"alpha", "zeta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
