// Package tool holds the ToolName/ToolClass vocabulary and the registry
// mapping tool names to the classes they belong to.
package tool

import "sort"

// Class is a tag from the closed set of tool classifications. A tool may
// belong to zero or more classes.
type Class string

const (
	SafeRead           Class = "SAFE_READ"
	SensitiveRead      Class = "SENSITIVE_READ"
	SafeWrite          Class = "SAFE_WRITE"
	ConsequentialWrite Class = "CONSEQUENTIAL_WRITE"
	UnsafeExecute      Class = "UNSAFE_EXECUTE"
	HumanVerify        Class = "HUMAN_VERIFY"
	Sanitizer          Class = "SANITIZER"
	DataAccess         Class = "DATA_ACCESS"
	Exfiltration       Class = "EXFILTRATION"
)

// AllClasses lists every recognized class, used to validate registry
// entries at load time.
var AllClasses = []Class{
	SafeRead, SensitiveRead, SafeWrite, ConsequentialWrite,
	UnsafeExecute, HumanVerify, Sanitizer, DataAccess, Exfiltration,
}

// IsValid reports whether c is one of the closed set of classes.
func (c Class) IsValid() bool {
	for _, v := range AllClasses {
		if v == c {
			return true
		}
	}
	return false
}

// Name is a non-empty, case-sensitive tool identifier.
type Name string

// Registry maps tool names to the classes they were annotated with.
type Registry struct {
	classes map[Name][]Class
}

// NewRegistry builds a Registry from a name->classes mapping, typically
// decoded from the policy document's companion tool-class section.
func NewRegistry(mapping map[Name][]Class) (*Registry, error) {
	r := &Registry{classes: make(map[Name][]Class, len(mapping))}
	for name, classes := range mapping {
		sorted := make([]Class, len(classes))
		copy(sorted, classes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		r.classes[name] = sorted
	}
	return r, nil
}

// Lookup returns the classes registered for name, or an empty (nil) slice
// if the tool is unregistered. Unregistered tools are not an error: a
// policy may still allow/deny them purely by name.
func (r *Registry) Lookup(name Name) []Class {
	if r == nil {
		return nil
	}
	return r.classes[name]
}

// HasClass reports whether name is registered under class c.
func (r *Registry) HasClass(name Name, c Class) bool {
	for _, got := range r.Lookup(name) {
		if got == c {
			return true
		}
	}
	return false
}
