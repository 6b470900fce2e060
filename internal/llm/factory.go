package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Settings carries the provider fields read from configuration
type Settings struct {
	Provider string
	Endpoint string
	Model    string
	Region   string
	Timeout  time.Duration
}

// NewProviderFromConfig creates a Provider from config fields
func NewProviderFromConfig(ctx context.Context, s Settings) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "ollama", "":
		if strings.TrimSpace(s.Endpoint) == "" {
			return nil, fmt.Errorf("ollama endpoint is required")
		}
		return NewClient(s.Endpoint, s.Model, s.Timeout), nil
	case "bedrock":
		return NewBedrock(ctx, s.Region, s.Model, s.Timeout)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", s.Provider)
	}
}
