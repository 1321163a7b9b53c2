package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/models"
)

// client implements the embedding, generation, cross-encoder and risk
// classifier collaborators on top of the OpenAI HTTP API.
type client struct {
	apiKey          string
	baseURL         string
	completionModel string
	embeddingModel  string
	moderationModel string
	httpClient      *http.Client
}

// NewClient creates an OpenAI-backed provider bundle.
func NewClient(cfg config.OpenAIConfig) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &client{
		apiKey:          cfg.APIKey,
		baseURL:         base,
		completionModel: cfg.CompletionModel,
		embeddingModel:  cfg.EmbeddingModel,
		moderationModel: cfg.ModerationModel,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

func (c *client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Embed generates embeddings for the given texts.
func (c *client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	err := c.post(ctx, "/embeddings", map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}, &out)
	if err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *client) chat(ctx context.Context, system, user string, temperature float64) (string, error) {
	var out chatResponse
	err := c.post(ctx, "/chat/completions", map[string]interface{}{
		"model":       c.completionModel,
		"temperature": temperature,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return out.Choices[0].Message.Content, nil
}

// Generate produces a reply on the non-crisis path.
func (c *client) Generate(ctx context.Context, prompt string, contextDocs []string) (string, error) {
	var sb strings.Builder
	sb.WriteString(prompt)
	if len(contextDocs) > 0 {
		sb.WriteString("\n\nSupporting content:\n")
		for i, doc := range contextDocs {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, doc))
		}
	}
	return c.chat(ctx,
		"You are a warm, supportive companion. Reply briefly, without diagnosing or prescribing.",
		sb.String(), 0.4)
}

// Score rates the relevance of a document to a query as a value in [0,1].
func (c *client) Score(ctx context.Context, query, docText string) (float64, error) {
	out, err := c.chat(ctx,
		"Rate how relevant the document is to the query. Answer with a single number between 0 and 1, nothing else.",
		fmt.Sprintf("Query: %s\n\nDocument: %s", query, docText), 0)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("cross-encoder returned non-numeric score %q", out)
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, nil
}

// Risk bands applied to moderation category scores. The classifier's
// calibration is external; these cutoffs are the local mapping onto the
// four discrete levels.
const (
	highBand   = 0.7
	mediumBand = 0.4
	lowBand    = 0.15
)

// Classify maps moderation category scores onto a discrete risk assessment.
func (c *client) Classify(ctx context.Context, text string) (models.RiskAssessment, error) {
	var out struct {
		Results []struct {
			Categories     map[string]bool    `json:"categories"`
			CategoryScores map[string]float64 `json:"category_scores"`
		} `json:"results"`
	}
	err := c.post(ctx, "/moderations", map[string]interface{}{
		"model": c.moderationModel,
		"input": text,
	}, &out)
	if err != nil {
		return models.RiskAssessment{}, err
	}
	if len(out.Results) == 0 {
		return models.RiskAssessment{}, fmt.Errorf("empty moderation response")
	}

	res := out.Results[0]
	var reasons []models.RiskReason
	var max float64
	cats := make([]string, 0, len(res.CategoryScores))
	for cat := range res.CategoryScores {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		score := res.CategoryScores[cat]
		if !relevantCategory(cat) {
			continue
		}
		if score > max {
			max = score
		}
		if res.Categories[cat] || score >= mediumBand {
			reasons = append(reasons, models.RiskReason{Tag: cat})
		}
	}

	level := models.RiskNone
	switch {
	case max >= highBand:
		level = models.RiskHigh
	case max >= mediumBand:
		level = models.RiskMedium
	case max >= lowBand:
		level = models.RiskLow
	}
	return models.RiskAssessment{
		Level:      level,
		Confidence: max,
		Reasons:    reasons,
		At:         time.Now(),
	}, nil
}

func relevantCategory(cat string) bool {
	switch {
	case strings.HasPrefix(cat, "self-harm"),
		strings.HasPrefix(cat, "self_harm"),
		strings.HasPrefix(cat, "violence"),
		strings.HasPrefix(cat, "harassment/threatening"):
		return true
	}
	return false
}
