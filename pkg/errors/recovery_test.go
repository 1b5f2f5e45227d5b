package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover_WithPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		panic("test panic message")
	}

	err := testFunc()
	require.Error(t, err)

	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr), "expected PanicError, got %T", err)
	assert.Equal(t, "TestOperation", panicErr.Operation)
	assert.Equal(t, "test panic message", panicErr.PanicValue)
	assert.NotEmpty(t, panicErr.StackTrace)
	assert.Equal(t, "panic in TestOperation: test panic message", panicErr.Error())
}

func TestRecover_WithoutPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		return nil
	}

	assert.NoError(t, testFunc())
}

func TestRecover_WithExistingError(t *testing.T) {
	originalErr := fmt.Errorf("original error")

	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		err = originalErr
		panic("panic after error")
	}

	err := testFunc()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in TestOperation")
	assert.Contains(t, err.Error(), "original error")
	assert.True(t, errors.Is(err, originalErr))
}

func TestSafeExecute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		assert.NoError(t, SafeExecute("ok", func() error { return nil }))
	})

	t.Run("function error", func(t *testing.T) {
		want := fmt.Errorf("boom")
		err := SafeExecute("fails", func() error { return want })
		assert.Equal(t, want, err)
	})

	t.Run("panic", func(t *testing.T) {
		err := SafeExecute("member fit", func() error {
			var s []int
			_ = s[3]
			return nil
		})
		var panicErr *PanicError
		require.True(t, errors.As(err, &panicErr))
		assert.Equal(t, "member fit", panicErr.Operation)
		assert.Contains(t, panicErr.String(), "Stack trace:")
	})
}

func TestPanicError_UnwrapsErrorValues(t *testing.T) {
	inner := fmt.Errorf("inner")
	err := SafeExecute("op", func() error { panic(inner) })
	assert.True(t, errors.Is(err, inner))

	err = SafeExecute("op", func() error { panic(42) })
	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Nil(t, panicErr.Unwrap())
}

func BenchmarkSafeExecute_NoPanic(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = SafeExecute("bench", func() error { return nil })
	}
}
