package objstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type plain struct {
	Name  string
	Tags  []string
	Inner *plain
	Attrs map[string]any
}

func (*plain) ManagedObject() {}

type withFunc struct {
	Name string
	Fn   func()
}

type hidden struct {
	Name string
	fn   func()
}

func TestCheckStorable(t *testing.T) {
	require.NoError(t, CheckStorable(nil))
	require.NoError(t, CheckStorable(42))
	require.NoError(t, CheckStorable("hello"))
	require.NoError(t, CheckStorable(plain{Name: "a", Tags: []string{"x"}, Attrs: map[string]any{"n": 1}}))
	require.NoError(t, CheckStorable(hidden{Name: "ok", fn: func() {}}), "unexported fields are not stored")

	err := CheckStorable(withFunc{Name: "f", Fn: func() {}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotStorable))
	require.Contains(t, err.Error(), "Fn")

	err = CheckStorable(plain{Attrs: map[string]any{"ch": make(chan int)}})
	require.ErrorIs(t, err, ErrNotStorable)

	err = CheckStorable([]any{1, "two", func() {}})
	require.ErrorIs(t, err, ErrNotStorable)
}

func TestCheckStorableCycle(t *testing.T) {
	p := &plain{Name: "loop"}
	p.Inner = p
	require.NoError(t, CheckStorable(p))
}

func TestCheckManaged(t *testing.T) {
	require.NoError(t, CheckManaged(&plain{Name: "x"}))
	require.ErrorIs(t, CheckManaged(nil), ErrNotStorable)

	var nilPtr *plain
	require.ErrorIs(t, CheckManaged(nilPtr), ErrNotStorable)
}

func TestErrorMatching(t *testing.T) {
	err := NewError(RetCObjectNotFound, "object %d was removed", 7)
	require.True(t, IsObjectNotFound(err))
	require.False(t, IsConflict(err))
	require.ErrorIs(t, err, ErrObjectNotFound)
	require.Contains(t, err.Error(), "ObjectNotFound")
	require.Contains(t, err.Error(), "object 7 was removed")
}

func TestRef(t *testing.T) {
	var r Ref
	require.True(t, r.IsNil())
	require.Equal(t, "Ref(nil)", r.String())
	require.Equal(t, "Ref(12)", Ref{ID: 12}.String())
}

func TestGOBCodec(t *testing.T) {
	Register(&plain{})
	codec := NewGOBCodec()

	in := &plain{Name: "root", Tags: []string{"a", "b"}, Inner: &plain{Name: "leaf"}}
	b, err := codec.Encode(in)
	require.NoError(t, err)

	out, err := codec.Decode(b)
	require.NoError(t, err)
	require.IsType(t, &plain{}, out)
	require.Equal(t, in.Name, out.(*plain).Name)
	require.Equal(t, in.Tags, out.(*plain).Tags)
	require.Equal(t, "leaf", out.(*plain).Inner.Name)

	_, err = codec.Decode([]byte("garbage"))
	require.Error(t, err)
}
