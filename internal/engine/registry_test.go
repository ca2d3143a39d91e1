package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/prepare/pkg/api"
)

var (
	getUser   = api.NewCreator[int, string]("GET_USER")
	listPosts = api.NewCreator[string, []string]("LIST_POSTS")
)

func constant(v any) api.HandlerFunc {
	return func(ctx context.Context, props api.HandlerProps) (any, error) {
		return v, nil
	}
}

func TestRegistryDispatchesByType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.On(getUser, func(ctx context.Context, props api.HandlerProps) (any, error) {
		return props.Action.Payload.(int) * 2, nil
	}))

	out, err := reg.Process(context.Background(), api.Action{Type: "GET_USER", Payload: 21}, api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, 42, out)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.On(getUser, constant("a")))

	err := reg.On(getUser, constant("b"))
	require.Error(t, err)
	require.True(t, api.IsDuplicateHandler(err))
	require.EqualError(t, err, "handler for GET_USER already registered")

	// The original handler is kept.
	out, err := reg.Process(context.Background(), api.Action{Type: "GET_USER"}, api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, "a", out)
}

func TestRegistryResubscribeReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Resubscribe(getUser, constant("a"))
	reg.Resubscribe(getUser, constant("b"))

	out, err := reg.Process(context.Background(), api.Action{Type: "GET_USER"}, api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, "b", out)

	require.NoError(t, reg.On(listPosts, constant("on")))
	reg.Resubscribe(listPosts, constant("replaced"))
	out, err = reg.Process(context.Background(), api.Action{Type: "LIST_POSTS"}, api.Ambient{}, nil)
	require.NoError(t, err)
	require.Equal(t, "replaced", out)
	require.Equal(t, []string{"GET_USER", "LIST_POSTS"}, reg.Types())

	require.Panics(t, func() { reg.Resubscribe(api.TypeName(""), constant(1)) })
	require.Panics(t, func() { reg.Resubscribe(getUser, nil) })
}

func TestRegistryMissingHandler(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Process(context.Background(), api.Action{Type: "NOPE"}, api.Ambient{}, nil)
	require.Error(t, err)
	require.True(t, api.IsMissingHandler(err))
	require.EqualError(t, err, "handler with type NOPE is missing")
}

func TestRegistryMustOnChainsAndPanics(t *testing.T) {
	reg := NewRegistry().
		MustOn(getUser, constant(1)).
		MustOn(listPosts, constant(2))

	require.True(t, reg.Has("GET_USER"))
	require.True(t, reg.Has("LIST_POSTS"))
	require.Equal(t, []string{"GET_USER", "LIST_POSTS"}, reg.Types())

	require.Panics(t, func() { reg.MustOn(getUser, constant(3)) })
	require.Panics(t, func() { reg.MustOn(api.TypeName(""), constant(3)) })
	require.Panics(t, func() { reg.MustOn(api.TypeName("X"), nil) })
}

func TestRegistryPassesPropsThrough(t *testing.T) {
	reg := NewRegistry()
	var seen api.HandlerProps
	reg.MustOn(api.TypeName("ECHO"), func(ctx context.Context, props api.HandlerProps) (any, error) {
		seen = props
		return nil, nil
	})

	amb := api.Ambient{Page: api.Page{Pathname: "/x"}}
	acc := api.Accumulation{"a": 1}
	_, err := reg.Process(context.Background(), api.Action{Type: "ECHO", Payload: "p"}, amb, acc)
	require.NoError(t, err)
	require.Equal(t, "p", seen.Action.Payload)
	require.Equal(t, "/x", seen.Ambient.Page.Pathname)
	require.Equal(t, acc, seen.Accumulation)
}
