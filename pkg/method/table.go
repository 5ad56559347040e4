package method

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/HMasataka/hubrpc/pkg/errors"
	"google.golang.org/grpc/codes"
)

// Spec is what a service declares for one method before ids are assigned
type Spec struct {
	Name         string
	ID           int32
	HasID        bool
	Kind         Kind
	Parameters   int
	RequestType  reflect.Type
	ResponseType reflect.Type
}

// Table holds the descriptors of one service, indexed by name and id
type Table struct {
	service string
	hub     bool
	byName  map[string]*Descriptor
	byID    map[int32]*Descriptor
	ordered []*Descriptor
}

// NewTable validates specs and builds the descriptor table of a service.
// Every violation is a registration error; nothing is deferred to call time.
func NewTable(service string, hub bool, specs []Spec) (*Table, error) {
	if service == "" {
		return nil, registrationError(service, "", "service name is empty")
	}

	t := &Table{
		service: service,
		hub:     hub,
		byName:  make(map[string]*Descriptor, len(specs)),
		byID:    make(map[int32]*Descriptor, len(specs)),
	}

	for _, s := range specs {
		if s.Name == "" {
			return nil, registrationError(service, s.Name, "method name is empty")
		}
		if _, ok := t.byName[s.Name]; ok {
			return nil, registrationError(service, s.Name, "duplicate method name")
		}
		if hub != s.Kind.IsHub() {
			if hub {
				return nil, registrationError(service, s.Name, fmt.Sprintf("%s method is not allowed on a hub", s.Kind))
			}
			return nil, registrationError(service, s.Name, fmt.Sprintf("%s method requires a hub", s.Kind))
		}
		if s.Kind.IsStreaming() && s.Parameters > 0 {
			return nil, registrationError(service, s.Name, "streaming methods must not declare parameters")
		}

		id := s.ID
		if !s.HasID {
			id = ID(s.Name)
		}
		if other, ok := t.byID[id]; ok && hub {
			return nil, registrationError(service, s.Name,
				fmt.Sprintf("method id %d collides with %s", id, other.MethodName))
		}

		d := &Descriptor{
			ServiceName:  service,
			MethodName:   s.Name,
			MethodID:     id,
			Kind:         s.Kind,
			RequestType:  s.RequestType,
			ResponseType: s.ResponseType,
		}
		t.byName[s.Name] = d
		if hub {
			t.byID[id] = d
		}
		t.ordered = append(t.ordered, d)
	}

	sort.SliceStable(t.ordered, func(i, j int) bool {
		return t.ordered[i].MethodName < t.ordered[j].MethodName
	})

	return t, nil
}

// Service returns the service name
func (t *Table) Service() string { return t.service }

// IsHub reports whether the table describes a Hub
func (t *Table) IsHub() bool { return t.hub }

// Lookup finds a descriptor by method name
func (t *Table) Lookup(name string) (*Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// LookupID finds a Hub descriptor by method id
func (t *Table) LookupID(id int32) (*Descriptor, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// Descriptors returns all descriptors sorted by method name
func (t *Table) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(t.ordered))
	copy(out, t.ordered)
	return out
}

func registrationError(service, name, msg string) *errors.Error {
	return errors.New(errors.ErrorTypeRegistration, codes.InvalidArgument, msg).
		WithDetails(service + "." + name)
}
