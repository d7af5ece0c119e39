package script

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_Expression(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	got, err := s.Execute(context.Background(), "value * 10", map[string]any{"value": 5}, time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 50, got)
}

func TestSandbox_ReturnBody(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	src := `
var total = 0;
for (var i = 0; i < chunks.length; i++) { total += chunks[i].data.length; }
return { total: total, first: chunks[0].data[0] };`
	env := map[string]any{
		"chunks": []map[string]any{
			{"data": []byte{0xAA, 0xBB}},
			{"data": []byte{0xCC}},
		},
	}
	got, err := s.Execute(context.Background(), src, env, time.Second)
	require.NoError(t, err)

	obj, ok := got.(map[string]any)
	require.True(t, ok, "got %T", got)
	assert.EqualValues(t, 3, obj["total"])
	assert.EqualValues(t, 0xAA, obj["first"])
}

func TestSandbox_ExpressionWithHelperFunction(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	src := "function double(x) { return x * 2 }\ndouble(value)"
	got, err := s.Execute(context.Background(), src, map[string]any{"value": 5}, time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 10, got)

	_, err = s.Execute(context.Background(), "return (", nil, time.Second)
	var scriptErr *ScriptError
	assert.ErrorAs(t, err, &scriptErr)
}

func TestSandbox_NativeArrayMethods(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	got, err := s.Execute(context.Background(), "data.concat([4]).slice(1)", map[string]any{"data": []byte{1, 2, 3}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(3), int64(4)}, got)
}

func TestSandbox_Timeout(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	start := time.Now()
	_, err := s.Execute(context.Background(), "while (true) {}", nil, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSandbox_ContextCancel(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, "while (true) {}", nil, 5*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSandbox_Exception(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	_, err := s.Execute(context.Background(), "throw new Error('boom')", nil, time.Second)
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Contains(t, err.Error(), "boom")

	_, err = s.Execute(context.Background(), "this is not js", nil, time.Second)
	require.ErrorAs(t, err, &scriptErr)
}

func TestSandbox_NoSharedState(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	_, err := s.Execute(context.Background(), "leaked = 1", nil, time.Second)
	require.NoError(t, err)

	got, err := s.Execute(context.Background(), "typeof leaked", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)
}

func TestSandbox_UndefinedResult(t *testing.T) {
	t.Parallel()

	s := NewSandbox(zerolog.Nop())
	got, err := s.Execute(context.Background(), "console.log('hi')", nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}
