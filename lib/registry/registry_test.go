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

package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// headType stands in for a model constructor in these tests. Pointer identity
// is what matters: Resolve must hand back exactly what was registered.
type headType struct {
	name string
}

func TestRegisterAndResolveShortName(t *testing.T) {
	r := New[*headType]()

	tagger := &headType{name: "tagger"}
	got := r.Register("tagger", tagger)
	require.Same(t, tagger, got, "Register should return the value unchanged")

	resolved, err := r.Resolve("tagger")
	require.NoError(t, err)
	require.Same(t, tagger, resolved)
}

func TestRegisterOverwriteWins(t *testing.T) {
	r := New[*headType]()

	first := &headType{name: "first"}
	second := &headType{name: "second"}
	r.Register("dup", first)
	r.Register("dup", second)

	resolved, err := r.Resolve("dup")
	require.NoError(t, err)
	require.Same(t, second, resolved, "last registration wins on name collision")
}

func TestResolveCompositeLocator(t *testing.T) {
	r := New[*headType]()

	myHead := &headType{name: "MyHead"}
	r.RegisterIn("pkg.mod", "MyHead", myHead)

	resolved, err := r.Resolve("pkg.mod:my_head")
	require.NoError(t, err)
	require.Same(t, myHead, resolved)
}

func TestResolveSlashNamespace(t *testing.T) {
	r := New[*headType]()

	head := &headType{name: "SpanTagger"}
	r.RegisterIn("instar/heads", "SpanTagger", head)

	// Slash and dot forms refer to the same namespace.
	for _, id := range []string{"instar/heads:span_tagger", "instar.heads:span_tagger"} {
		resolved, err := r.Resolve(id)
		require.NoError(t, err, id)
		require.Same(t, head, resolved, id)
	}
}

func TestResolveInvalidIdentifier(t *testing.T) {
	r := New[*headType]()

	_, err := r.Resolve("unregistered_name_no_colon_no_slash")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidIdentifier))
	require.Contains(t, err.Error(), "unregistered_name_no_colon_no_slash",
		"error must name the offending identifier")
	require.Contains(t, err.Error(), "register", "error must tell the caller how to fix it")
}

func TestResolveMultipleDelimiters(t *testing.T) {
	r := New[*headType]()
	r.RegisterIn("a.b", "C", &headType{})

	_, err := r.Resolve("a:b:c")
	require.True(t, errors.Is(err, ErrInvalidIdentifier))
}

func TestResolveUnknownNamespace(t *testing.T) {
	r := New[*headType]()

	_, err := r.Resolve("no.such.pkg:my_head")
	require.True(t, errors.Is(err, ErrUnknownNamespace))
}

func TestResolveUnknownClass(t *testing.T) {
	r := New[*headType]()
	r.RegisterIn("pkg.mod", "Other", &headType{})

	_, err := r.Resolve("pkg.mod:my_head")
	require.True(t, errors.Is(err, ErrUnknownClass))
	require.Contains(t, err.Error(), "MyHead")
}

func TestCamelCase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"my_head", "MyHead"},
		{"a_b_c", "ABC"},
		{"t5_model", "T5Model"},
		{"entity_tagger", "EntityTagger"},
		{"single", "Single"},
		{"already_Caps", "AlreadyCaps"},
		{"trailing_", "Trailing"},
		{"__double", "Double"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CamelCase(tc.in), "CamelCase(%q)", tc.in)
	}
}
