package generator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_BuildArgs(t *testing.T) {
	tests := []struct {
		name     string
		skipFlag string
		req      *Request
		expected []string
	}{
		{
			name:     "prompt only",
			req:      &Request{Prompt: "hello"},
			expected: []string{"hello"},
		},
		{
			name:     "all flags, prompt last",
			skipFlag: "--no-confirm",
			req:      &Request{Prompt: "hello", Continue: true, Model: "textgen-small-2025-05"},
			expected: []string{"--no-confirm", "--model", "textgen-small-2025-05", "--continue", "hello"},
		},
		{
			name:     "continue without model",
			req:      &Request{Prompt: "hi", Continue: true},
			expected: []string{"--continue", "hi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(&Config{Binary: "textgen", SkipPermissionsFlag: tt.skipFlag})
			assert.Equal(t, tt.expected, r.buildArgs(tt.req))
		})
	}
}

func TestRunner_Generate(t *testing.T) {
	// echo prints its arguments, so stdout is the prompt back
	r := NewRunner(&Config{Binary: "echo"})

	out, err := r.Generate(context.Background(), &Request{Prompt: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", strings.TrimSpace(out))
}

func TestRunner_Generate_NonZeroExit(t *testing.T) {
	r := NewRunner(&Config{Binary: "false"})

	_, err := r.Generate(context.Background(), &Request{Prompt: "ignored"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator failed")
}

func TestRunner_Generate_MissingBinary(t *testing.T) {
	r := NewRunner(&Config{Binary: "no-such-binary-promptrelay"})

	_, err := r.Generate(context.Background(), &Request{Prompt: "ignored"})
	require.Error(t, err)
}

func TestRunner_Generate_Timeout(t *testing.T) {
	// sleep's final argument is the prompt, so it sleeps past the timeout
	r := NewRunner(&Config{Binary: "sleep", Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := r.Generate(context.Background(), &Request{Prompt: "5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunner_Generate_ContextCancel(t *testing.T) {
	r := NewRunner(&Config{Binary: "sleep"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := r.Generate(ctx, &Request{Prompt: "5"})
	require.Error(t, err)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "<empty>", excerpt("   \n"))
	assert.Equal(t, "boom", excerpt("boom\n"))

	long := strings.Repeat("x", 500)
	assert.Len(t, excerpt(long), 203)
}
