package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
)

// bedrockClient calls a model hosted on Bedrock. NewClient builds it
// whenever the provider is "bedrock", for the primary path as well as
// the fallback path; each Extract makes one InvokeModel call.
type bedrockClient struct {
	cfg     config.VisionConfig
	logger  *zap.Logger
	runtime *bedrockruntime.Client
}

func newBedrockClient(cfg config.VisionConfig, logger *zap.Logger) (Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for bedrock provider: %w", err)
	}
	return &bedrockClient{
		cfg:     cfg,
		logger:  logger,
		runtime: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

func (b *bedrockClient) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        b.cfg.MaxTokens,
		"temperature":       b.cfg.Temperature,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": generatePrompt(req)},
					{
						"type": "image",
						"source": map[string]string{
							"type":       "base64",
							"media_type": "image/jpeg",
							"data":       base64.StdEncoding.EncodeToString(req.ImageBytes),
						},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build bedrock request body: %w", err)
	}

	out, err := b.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.cfg.Model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock InvokeModel call failed: %w", err)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse bedrock response envelope: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("bedrock response contained no content blocks")
	}

	var extracted struct {
		Header map[string]interface{} `json:"header"`
		Items  []ExtractedItem         `json:"items"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(parsed.Content[0].Text)), &extracted); err != nil {
		return nil, fmt.Errorf("failed to parse vision model response: %w", err)
	}

	receiptBox := parseBoundingBox(extracted.Header, "receipt_number")
	dateBox := parseBoundingBox(extracted.Header, "date")

	return &ExtractionResult{
		Header:              extracted.Header,
		Items:               extracted.Items,
		Accuracy:            meanConfidence(extracted.Items),
		InputTokens:         parsed.Usage.InputTokens,
		OutputTokens:        parsed.Usage.OutputTokens,
		Cost:                computeCost(parsed.Usage.InputTokens, parsed.Usage.OutputTokens, b.cfg.Model),
		ModelUsed:           b.cfg.Model,
		CombinedBoundingBox: mergeReceiptDateBoundingBoxes(receiptBox, dateBox),
	}, nil
}

func (b *bedrockClient) IsHealthy() bool {
	return b.runtime != nil
}
