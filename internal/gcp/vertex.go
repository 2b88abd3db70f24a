package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are a forensic document transcriber. Your task is to transcribe a scanned legal PDF into Markdown without adding, omitting or paraphrasing anything."
const OCRUserPrompt = `Extract ALL of the text of this document as well-structured Markdown.

Formatting rules:
- Use # for main titles, ## for sections and ### for subsections.
- Tables: ALWAYS use valid Markdown tables including the separator row.
- Do NOT include standalone page numbers.
- Preserve bold (**text**) and italics (*text*).
- Be thorough and precise.`

// ErrRefusal is returned when the model answers with a refusal instead of a
// transcription.
var ErrRefusal = errors.New("model refused to transcribe")

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexOCR transcribes PDF bytes with a Gemini model on Vertex AI.
type VertexOCR struct {
	model      *genai.GenerativeModel
	modelName  string
	timeout    time.Duration
	baseClient *genai.Client
}

// NewVertexOCR creates the OCR client. timeout bounds each request.
func NewVertexOCR(ctx context.Context, projectID, region, modelName string, maxOutputTokens int, timeout time.Duration) (*VertexOCR, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexOCR: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	model.SetMaxOutputTokens(int32(maxOutputTokens))
	model.SetTemperature(0)

	return &VertexOCR{
		model:      model,
		modelName:  modelName,
		timeout:    timeout,
		baseClient: baseClient,
	}, nil
}

// Name is recorded on forensic certificates as the model that produced the text.
func (c *VertexOCR) Name() string {
	return c.modelName
}

// Transcribe sends one PDF sub-document and returns its Markdown. from and to
// are the page numbers of the sub-document inside the original file.
func (c *VertexOCR) Transcribe(ctx context.Context, pdf []byte, from, to int) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := genai.Text(fmt.Sprintf("%s\n\nPages %d-%d.", OCRUserPrompt, from, to))
	filePart := genai.Blob{MIMEType: "application/pdf", Data: pdf}

	resp, err := c.model.GenerateContent(ctx, filePart, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	markdown, parts := ExtractMarkdown(resp)
	if parts > 1 {
		slog.Warn("Gemini response contained multiple text parts; they have been concatenated.", "parts", parts, "fromPage", from, "toPage", to)
	}
	if err := DetectRefusal(markdown); err != nil {
		slog.Error("Gemini refused to transcribe.", "fromPage", from, "toPage", to, "response", markdown)
		return "", fmt.Errorf("pages %d-%d: %w", from, to, err)
	}
	if markdown == "" {
		slog.Warn("No markdown content extracted from response. Treating as empty.", "fromPage", from, "toPage", to)
	}
	return markdown, nil
}

func (c *VertexOCR) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ExtractMarkdown concatenates the text parts of the first candidate and
// strips a surrounding ```markdown fence. It also returns the number of text
// parts seen.
func ExtractMarkdown(resp *genai.GenerateContentResponse) (string, int) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", 0
	}

	var markdownContent strings.Builder
	var textPartsFound int
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			markdownContent.WriteString(string(txt))
			textPartsFound++
		}
	}

	contentStr := strings.TrimSpace(markdownContent.String())
	contentStr = strings.TrimPrefix(contentStr, "```markdown")
	contentStr = strings.TrimPrefix(contentStr, "```")
	contentStr = strings.TrimSuffix(contentStr, "```")
	return strings.TrimSpace(contentStr), textPartsFound
}

// DetectRefusal returns ErrRefusal if markdown reads like a refusal.
func DetectRefusal(markdown string) error {
	lower := strings.ToLower(markdown)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("%w: response contains %q", ErrRefusal, phrase)
		}
	}
	return nil
}
