package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaGenerate(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Response{Response: "  {\"root_folders\":[]}\n"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/generate", "llama3.2:latest", 5*time.Second)
	out, err := c.Generate(context.Background(), "organize these")
	require.NoError(t, err)

	assert.Equal(t, `{"root_folders":[]}`, out)
	assert.Equal(t, "llama3.2:latest", got.Model)
	assert.Equal(t, "organize these", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	assert.Equal(t, 0.3, got.Options["temperature"])
	assert.Equal(t, "ollama", c.Name())
}

func TestOllamaGenerateStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/generate", "missing", time.Second)
	_, err := c.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaGenerateHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(srv.URL+"/api/generate", "m", 5*time.Second)
	_, err := c.Generate(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaIsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, NewClient(srv.URL+"/api/generate", "m", time.Second).IsAvailable(context.Background()))

	srv.Close()
	assert.False(t, NewClient(srv.URL+"/api/generate", "m", time.Second).IsAvailable(context.Background()))
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockGenerateAnthropic(t *testing.T) {
	inv := &fakeInvoker{body: `{"content":[{"type":"text","text":" {\"root_folders\":[]} "}]}`}
	b := newBedrockWithInvoker(inv, "us-east-1", "anthropic.claude-3-haiku-20240307-v1", time.Second)

	out, err := b.Generate(context.Background(), "organize")
	require.NoError(t, err)
	assert.Equal(t, `{"root_folders":[]}`, out)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", *inv.input.ModelId)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(inv.input.Body, &payload))
	assert.Equal(t, "bedrock-2023-05-31", payload["anthropic_version"])
	assert.EqualValues(t, 4096, payload["max_tokens"])
	assert.Equal(t, classifierSystemPrompt, payload["system"])
}

func TestBedrockGenerateErrors(t *testing.T) {
	t.Run("unsupported family", func(t *testing.T) {
		b := newBedrockWithInvoker(&fakeInvoker{}, "", "meta.llama3-8b-instruct-v1:0", time.Second)
		_, err := b.Generate(context.Background(), "x")
		assert.ErrorContains(t, err, "unsupported Bedrock model family")
	})
	t.Run("invoke failure is annotated", func(t *testing.T) {
		cause := errors.New("ValidationException: provided model identifier is invalid")
		b := newBedrockWithInvoker(&fakeInvoker{err: cause}, "", "anthropic.claude-x", time.Second)
		_, err := b.Generate(context.Background(), "x")
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "Hint: Verify the exact Bedrock ModelId")
	})
	t.Run("empty content", func(t *testing.T) {
		b := newBedrockWithInvoker(&fakeInvoker{body: `{"content":[]}`}, "", "anthropic.claude-x", time.Second)
		_, err := b.Generate(context.Background(), "x")
		assert.ErrorContains(t, err, "empty response")
	})
}

func TestNormalizeModelID(t *testing.T) {
	cases := map[string]string{
		"anthropic.claude-3-haiku":                                "anthropic.claude-3-haiku:0",
		"anthropic.claude-3-haiku:1":                              "anthropic.claude-3-haiku:1",
		"arn:aws:bedrock:us-east-1::foundation-model/anthropic.x": "arn:aws:bedrock:us-east-1::foundation-model/anthropic.x",
		"us-east-1/inference-profile/us.anthropic.claude":         "us-east-1/inference-profile/us.anthropic.claude",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeModelID(in), in)
	}
}

func TestDetectBedrockFamily(t *testing.T) {
	assert.Equal(t, "anthropic", detectBedrockFamily("us.anthropic.claude-3-5-sonnet"))
	assert.Equal(t, "meta", detectBedrockFamily("meta.llama3"))
	assert.Equal(t, "titan", detectBedrockFamily("amazon.titan-text"))
	assert.Equal(t, "", detectBedrockFamily("mistral.large"))
}

func TestAnnotateBedrockError(t *testing.T) {
	assert.NoError(t, annotateBedrockError(nil, "m"))

	plain := errors.New("boom")
	assert.Same(t, plain, annotateBedrockError(plain, "m"))

	tp := annotateBedrockError(errors.New("ValidationException: on-demand throughput isn't supported"), "anthropic.x")
	assert.Contains(t, tp.Error(), "inference profile")
	assert.Contains(t, tp.Error(), `"anthropic.x"`)
}

func TestNewProviderFromConfig(t *testing.T) {
	p, err := NewProviderFromConfig(context.Background(), Settings{
		Provider: "ollama", Endpoint: "http://localhost:11434/api/generate", Model: "m", Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	_, err = NewProviderFromConfig(context.Background(), Settings{Provider: "ollama"})
	assert.ErrorContains(t, err, "endpoint is required")

	_, err = NewProviderFromConfig(context.Background(), Settings{Provider: "openai"})
	assert.ErrorContains(t, err, `unsupported LLM provider "openai"`)

	_, err = NewProviderFromConfig(context.Background(), Settings{Provider: "bedrock"})
	assert.ErrorContains(t, err, "bedrock model is required")
}
