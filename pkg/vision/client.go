// Package vision implements the Vision Extractor (C6): a primary
// fast-path call to a vision LLM, confidence scoring against the
// quality gates, and escalation to a stronger fallback model when the
// primary result doesn't clear them.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
)

// ExtractionKind is the document type a client.Extract call is asked
// to parse — it selects the tenant prompt template and the
// normalization rules the ingestion pipeline (C8) applies afterward.
type ExtractionKind string

const (
	KindSales        ExtractionKind = "sales"
	KindVendor       ExtractionKind = "vendor"
	KindMappingSheet ExtractionKind = "mapping_sheet"
)

// ExtractionRequest carries everything a Client needs to run one
// extraction call.
type ExtractionRequest struct {
	ImageBytes   []byte
	SystemPrompt string
	Kind         ExtractionKind
	Tenant       string
	Industry     string
	Columns      []string
}

// ExtractedItem is one line item the model returned, with its raw
// fields and per-item confidence.
type ExtractedItem struct {
	Fields     map[string]interface{} `json:"fields"`
	Confidence float64                `json:"confidence"`
}

// ExtractionResult is the parsed structured object a vision call
// produces: header fields, items, aggregate confidence, token/cost
// accounting, and which model path actually served the request.
type ExtractionResult struct {
	Header              map[string]interface{} `json:"header"`
	Items               []ExtractedItem        `json:"items"`
	Accuracy            float64                `json:"accuracy"`
	InputTokens         int                    `json:"input_tokens"`
	OutputTokens        int                    `json:"output_tokens"`
	Cost                float64                `json:"cost"`
	ModelUsed           string                 `json:"model_used"`
	FallbackAttempted   bool                   `json:"fallback_attempted"`
	FallbackReason      string                 `json:"fallback_reason,omitempty"`
	CombinedBoundingBox *BoundingBox           `json:"combined_bounding_box,omitempty"`
}

// Client calls a vision-capable LLM for one extraction.
type Client interface {
	Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error)
	IsHealthy() bool
}

type client struct {
	cfg        config.VisionConfig
	logger     *zap.Logger
	anthropic  anthropic.Client
}

// NewClient builds the primary-model Client for cfg.Provider. Only
// "anthropic" and "bedrock" are supported; anything else is a
// configuration error caught at start-up rather than on the first
// call.
func NewClient(cfg config.VisionConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return &client{
			cfg:       cfg,
			logger:    logger,
			anthropic: anthropic.NewClient(option.WithBaseURL(cfg.Endpoint)),
		}, nil
	case "bedrock":
		return newBedrockClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// promptTemplate assembles the system/user/assistant sections sent to
// the model. The schema placeholder carries the tenant's column map
// so the model returns field names the ingestion pipeline already
// knows how to normalize.
const promptTemplate = `<|system|>
You are an invoice data extraction assistant for tenant %s operating in the %s industry.
Extract structured line items from the attached %s document and respond strictly as JSON matching this schema:
%s

CRITICAL DECISION RULES:
- Never invent a value that is not visible in the image.
- Use null for any field you cannot read, never an empty string.
- Assign a confidence score between 0 and 1 to every extracted field.
- If overall legibility looks below 70%% mark the document low-confidence rather than guessing.

AVAILABLE ACTIONS:
- extract: return header + items
- reject: return an empty items array with a reason field

<|user|>
Tenant: %s
Document kind: %s
Expected columns: %v
Expected column count: %v

<|assistant|>
`

func generatePrompt(req ExtractionRequest) string {
	schema := `{"header": {...}, "items": [{"fields": {...}, "confidence": 0.0}]}`
	return fmt.Sprintf(promptTemplate,
		req.Tenant, req.Industry, req.Kind, schema,
		req.Tenant, req.Kind, req.Columns, len(req.Columns),
	)
}

func (c *client) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	prompt := generatePrompt(req)

	message, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   int64(c.cfg.MaxTokens),
		Temperature: anthropic.Float(float64(c.cfg.Temperature)),
		System: []anthropic.TextBlockParam{
			{Text: prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/jpeg", base64.StdEncoding.EncodeToString(req.ImageBytes)),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision model call failed: %w", err)
	}

	raw := stripJSONFence(message.Content[0].Text)

	var parsed struct {
		Header map[string]interface{} `json:"header"`
		Items  []ExtractedItem         `json:"items"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse vision model response: %w", err)
	}

	inputTokens := int(message.Usage.InputTokens)
	outputTokens := int(message.Usage.OutputTokens)
	modelUsed := string(c.cfg.Model)

	receiptBox := parseBoundingBox(parsed.Header, "receipt_number")
	dateBox := parseBoundingBox(parsed.Header, "date")

	return &ExtractionResult{
		Header:              parsed.Header,
		Items:               parsed.Items,
		Accuracy:            meanConfidence(parsed.Items),
		InputTokens:         inputTokens,
		OutputTokens:        outputTokens,
		Cost:                computeCost(inputTokens, outputTokens, modelUsed),
		ModelUsed:           modelUsed,
		CombinedBoundingBox: mergeReceiptDateBoundingBoxes(receiptBox, dateBox),
	}, nil
}

func (c *client) IsHealthy() bool {
	return c.cfg.Endpoint != ""
}

// stripJSONFence removes a ```json ... ``` or bare ``` ... ``` fence a
// model sometimes wraps its JSON response in.
func stripJSONFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// meanConfidence returns the mean of the items' positive confidence
// scores as a percentage (0..1 scores scaled to 0..100), or 100 when
// no item carries one (the prompt opted out of scoring).
func meanConfidence(items []ExtractedItem) float64 {
	if len(items) == 0 {
		return 100
	}
	var sum float64
	var counted int
	for _, item := range items {
		if item.Confidence > 0 {
			sum += item.Confidence
			counted++
		}
	}
	if counted == 0 {
		return 100
	}
	return (sum / float64(counted)) * 100
}
