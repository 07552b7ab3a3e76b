// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package registry provides a generic name-to-value registry with support for
// composite string locators.
//
// Values are registered either under a short name or inside a namespace. A
// short name resolves directly. A composite locator of the form
// "namespace:class_name" (the namespace may be dot- or slash-separated)
// resolves by looking up the namespace and converting the snake_case class
// name to CamelCase.
//
// Registries are plain objects so callers (and tests) can construct isolated
// instances instead of sharing process-wide state. Packages that want
// registration at import time keep their own package-level default instance
// and populate it from init().
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Sentinel errors returned by Resolve. Use errors.Is to classify failures.
var (
	// ErrInvalidIdentifier indicates the identifier is neither a registered
	// short name nor a composite "namespace:class" locator.
	ErrInvalidIdentifier = errors.New("invalid model identifier")

	// ErrUnknownNamespace indicates the namespace part of a composite locator
	// has not been registered.
	ErrUnknownNamespace = errors.New("unknown namespace")

	// ErrUnknownClass indicates the namespace exists but has no class with
	// the resolved name.
	ErrUnknownClass = errors.New("unknown class in namespace")
)

// Registry maps string identifiers to values of type T.
//
// Registration is overwrite-wins: registering the same name twice silently
// replaces the previous value, matching the behavior of the backend registry
// this was modeled on. Entries are never removed for the lifetime of the
// registry.
type Registry[T any] struct {
	mu         sync.RWMutex
	names      map[string]T
	namespaces map[string]map[string]T
}

// New creates an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		names:      make(map[string]T),
		namespaces: make(map[string]map[string]T),
	}
}

// Register records v under the given short name and returns v, so the call
// can be used inline at declaration sites. Later registrations for the same
// name overwrite earlier ones.
func (r *Registry[T]) Register(name string, v T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = v
	return v
}

// RegisterIn records v as class className inside the given namespace.
// The namespace is normalized (slashes become dots) so "a/b/c" and "a.b.c"
// refer to the same namespace. className must be the CamelCase form.
func (r *Registry[T]) RegisterIn(namespace, className string, v T) T {
	ns := normalizeNamespace(namespace)

	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.namespaces[ns]
	if !ok {
		members = make(map[string]T)
		r.namespaces[ns] = members
	}
	members[className] = v
	return v
}

// Names returns the registered short names in unspecified order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	return names
}

// Resolve returns the value for the given identifier.
//
// Identifier grammar:
//
//	<short_name>
//	<namespace>:<snake_case_class_name>
//	<slash/separated/namespace>:<snake_case_class_name>
//
// Short names are tried first. Composite locators must contain exactly one
// ":" separator; the class-name part is converted from snake_case to
// CamelCase before lookup ("my_head" resolves class "MyHead").
func (r *Registry[T]) Resolve(identifier string) (T, error) {
	var zero T

	r.mu.RLock()
	v, ok := r.names[identifier]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	if !strings.Contains(identifier, ":") {
		return zero, fmt.Errorf(
			"%w: %q is not a registered model and is not a namespace:class locator; "+
				"register the model or provide its full locator", ErrInvalidIdentifier, identifier)
	}

	parts := strings.Split(identifier, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return zero, fmt.Errorf(
			"%w: %q must have exactly one namespace part and one class part separated by a single colon",
			ErrInvalidIdentifier, identifier)
	}

	ns := normalizeNamespace(parts[0])
	className := CamelCase(parts[1])

	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.namespaces[ns]
	if !ok {
		return zero, fmt.Errorf("%w: %q (resolving %q)", ErrUnknownNamespace, ns, identifier)
	}
	v, ok = members[className]
	if !ok {
		return zero, fmt.Errorf("%w: %q has no class %q (resolving %q)", ErrUnknownClass, ns, className, identifier)
	}
	return v, nil
}

// CamelCase converts a snake_case name to CamelCase by upper-casing the first
// letter of each underscore-delimited word and leaving the rest unchanged:
// "my_head" -> "MyHead", "t5_model" -> "T5Model", "a_b_c" -> "ABC".
//
// Multi-capital acronyms are not treated specially ("crf_tagger" becomes
// "CrfTagger", not "CRFTagger"); class names registered into namespaces must
// follow the same convention.
func CamelCase(name string) string {
	var b strings.Builder
	for _, word := range strings.Split(name, "_") {
		if word == "" {
			continue
		}
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteString(word[1:])
	}
	return b.String()
}

func normalizeNamespace(namespace string) string {
	return strings.ReplaceAll(namespace, "/", ".")
}
