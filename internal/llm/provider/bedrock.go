package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const (
	bedrockDefaultModel  = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	bedrockConfigTimeout = 10 * time.Second
)

func init() {
	RegisterFactory("bedrock", func(config map[string]any) (Provider, error) {
		region := stringSetting(config, "region", "AWS_REGION")
		if region == "" {
			return nil, fmt.Errorf("AWS_REGION not set")
		}

		ctx, cancel := context.WithTimeout(context.Background(), bedrockConfigTimeout)
		defer cancel()

		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return NewBedrockProvider(bedrockruntime.NewFromConfig(cfg)), nil
	})
}

// BedrockClient is the subset of the bedrockruntime client used here, for testability
type BedrockClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements Provider on the Bedrock Converse API.
// Structured output is obtained by forcing a single tool whose input schema
// is the response schema.
type BedrockProvider struct {
	client BedrockClient
}

// NewBedrockProvider wraps a Bedrock runtime client
func NewBedrockProvider(client BedrockClient) *BedrockProvider {
	return &BedrockProvider{client: client}
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// CreateCompletion creates a completion
func (p *BedrockProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	input := p.buildInput(req)
	if len(req.Tools) > 0 {
		tc, err := p.buildTools(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = tc
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, p.wrapError(err)
	}
	return p.parseOutput(out)
}

// CreateStructured creates a structured response through a forced tool call
func (p *BedrockProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	name := req.SchemaName
	if name == "" {
		name = "respond"
	}
	schema := req.ResponseSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	input := p.buildInput(req.CompletionRequest)
	tc, err := p.buildTools([]Tool{{Name: name, Description: "Return the response in the required shape.", Parameters: schema}})
	if err != nil {
		return nil, err
	}
	tc.ToolChoice = &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{Name: aws.String(name)}}
	input.ToolConfig = tc

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, p.wrapError(err)
	}
	compResp, err := p.parseOutput(out)
	if err != nil {
		return nil, err
	}

	for _, call := range compResp.ToolCalls {
		if call.Function.Name == name {
			return &StructuredResponse{Data: call.Function.Arguments, CompletionResponse: *compResp}, nil
		}
	}
	// Model answered in text; let the caller validate it.
	return &StructuredResponse{Data: json.RawMessage(compResp.Content), CompletionResponse: *compResp}, nil
}

func (p *BedrockProvider) buildInput(req CompletionRequest) *bedrockruntime.ConverseInput {
	model := req.Model
	if model == "" {
		model = bedrockDefaultModel
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		InferenceConfig: &types.InferenceConfiguration{Temperature: aws.Float32(float32(req.Temperature))},
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}

	for _, m := range req.Messages {
		text := &types.ContentBlockMemberText{Value: m.Content}
		switch m.Role {
		case "system":
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
		case "assistant":
			input.Messages = append(input.Messages, types.Message{Role: types.ConversationRoleAssistant, Content: []types.ContentBlock{text}})
		default:
			input.Messages = append(input.Messages, types.Message{Role: types.ConversationRoleUser, Content: []types.ContentBlock{text}})
		}
	}

	return input
}

func (p *BedrockProvider) buildTools(tools []Tool) (*types.ToolConfiguration, error) {
	tc := &types.ToolConfiguration{}
	for _, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, NewProviderError("bedrock", ErrorCodeInvalidRequest, "tool schema: "+err.Error(), err)
			}
		}
		tc.Tools = append(tc.Tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return tc, nil
}

func (p *BedrockProvider) parseOutput(out *bedrockruntime.ConverseOutput) (*CompletionResponse, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError("bedrock", ErrorCodeUnknown, "no message in response", nil)
	}

	var content strings.Builder
	var toolCalls []ToolCall
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			content.WriteString(b.Value)
		case *types.ContentBlockMemberToolUse:
			raw := []byte("{}")
			if b.Value.Input != nil {
				var err error
				if raw, err = b.Value.Input.MarshalSmithyDocument(); err != nil {
					return nil, NewProviderError("bedrock", ErrorCodeUnknown, "decode tool input: "+err.Error(), err)
				}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       aws.ToString(b.Value.ToolUseId),
				Type:     "function",
				Function: FunctionCall{Name: aws.ToString(b.Value.Name), Arguments: raw},
			})
		}
	}

	resp := &CompletionResponse{
		Content:      content.String(),
		FinishReason: string(out.StopReason),
		ToolCalls:    toolCalls,
	}
	if out.Usage != nil {
		resp.Usage = Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

func (p *BedrockProvider) wrapError(err error) error {
	var (
		throttled   *types.ThrottlingException
		invalid     *types.ValidationException
		denied      *types.AccessDeniedException
		notFound    *types.ResourceNotFoundException
		timeout     *types.ModelTimeoutException
		internal    *types.InternalServerException
		unavailable *types.ServiceUnavailableException
	)

	code := ErrorCodeUnknown
	switch {
	case errors.As(err, &throttled):
		code = ErrorCodeRateLimit
	case errors.As(err, &invalid):
		code = ErrorCodeInvalidRequest
	case errors.As(err, &denied):
		code = ErrorCodeAuthentication
	case errors.As(err, &notFound):
		code = ErrorCodeModelNotFound
	case errors.As(err, &timeout):
		code = ErrorCodeTimeout
	case errors.As(err, &internal), errors.As(err, &unavailable):
		code = ErrorCodeServerError
	}
	return NewProviderError("bedrock", code, err.Error(), err)
}
