package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
)

const healthTimeout = 5 * time.Second

// AgentConfig selects the Ollama vision model used for captions.
type AgentConfig struct {
	Host   string
	Port   int
	Model  string
	Labels []string
}

// AgentCaptioner asks an Ollama vision model to describe each frame with
// phrases from the candidate vocabulary.
type AgentCaptioner struct {
	newAgent func() *agent.DefaultAgent
	prompt   string
}

// NewAgentCaptioner checks that Ollama is running and selects the model.
func NewAgentCaptioner(ctx context.Context, cfg AgentConfig, logger *slog.Logger) (*AgentCaptioner, error) {
	// Check if Ollama is running
	if err := checkOllama(ctx, cfg.Host, cfg.Port); err != nil {
		return nil, err
	}

	// Set up Ollama provider
	opts := &ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: cfg.Host,
		Port:    cfg.Port,
	}
	provider := ollama.NewProvider(opts)

	model := &types.Model{
		ID: cfg.Model,
	}
	provider.UseModel(ctx, model)

	newAgent := func() *agent.DefaultAgent {
		agentConf := &agent.NewAgentConfig{
			Provider:     provider,
			Logger:       logger,
			SystemPrompt: "You are a visual analysis assistant that labels video frames for search. Answer only with the requested labels.",
		}
		return agent.NewAgent(agentConf)
	}

	return &AgentCaptioner{
		newAgent: newAgent,
		prompt:   captionPrompt(cfg.Labels),
	}, nil
}

func (c *AgentCaptioner) Available() bool { return true }

// Caption runs a fresh agent per frame so no conversation history carries
// over between images.
func (c *AgentCaptioner) Caption(ctx context.Context, imagePath string) (string, error) {
	response := c.newAgent().Run(
		ctx,
		agent.WithInput(c.prompt),
		agent.WithImagePath(imagePath),
	)
	if response.Err != nil {
		return "", response.Err
	}

	if len(response.Messages) == 0 {
		return "", fmt.Errorf("no response messages received from model")
	}

	// Get the model's response (not the prompt)
	content := strings.TrimSpace(response.Messages[len(response.Messages)-1].Content)
	if content == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return cleanCaption(content), nil
}

func (c *AgentCaptioner) Close() error { return nil }

func checkOllama(ctx context.Context, host string, port int) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	url := fmt.Sprintf("%s:%d/api/tags", strings.TrimRight(host, "/"), port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid ollama address: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not reachable at %s: %w", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned %s", resp.Status)
	}
	return nil
}

func captionPrompt(labels []string) string {
	return fmt.Sprintf(
		"Which %d of these labels best describe this image? Reply with the labels only, most fitting first, separated by commas.\nLabels: %s",
		topLabels, strings.Join(labels, "; "),
	)
}

// cleanCaption keeps at most three comma-separated phrases from a model reply.
func cleanCaption(content string) string {
	content = strings.ReplaceAll(content, "\n", ",")
	var parts []string
	for _, p := range strings.Split(content, ",") {
		p = strings.Trim(strings.TrimSpace(p), `"'.-*`)
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts = append(parts, p)
		if len(parts) == topLabels {
			break
		}
	}
	return strings.Join(parts, ", ")
}
