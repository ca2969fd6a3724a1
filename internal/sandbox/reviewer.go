package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/obs"
)

// reviewFallback is what the gallery shows when no review could be generated.
const reviewFallback = "Sorry, could not generate a review at this time."

// Reviewer drafts a review for a listing.
type Reviewer interface {
	Review(ctx context.Context, car *db.Car) (string, error)
}

// OpenAIReviewer drafts reviews with the Responses API.
type OpenAIReviewer struct {
	client *openai.Client
	model  string
}

// NewOpenAIReviewer returns a reviewer calling model with apiKey.
func NewOpenAIReviewer(apiKey, model string, opts ...option.RequestOption) *OpenAIReviewer {
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIReviewer{client: &client, model: model}
}

const reviewInstructions = `You write short customer reviews for a car marketplace.
Answer with two or three plain sentences. No markdown, no lists, no headings.`

func (r *OpenAIReviewer) Review(ctx context.Context, car *db.Car) (string, error) {
	prompt := fmt.Sprintf("Write a review of the %d %s. Director: %s. Main settings: %s. Description: %s",
		car.Year, car.Title(), car.Director, car.MainSettings, car.Description)

	resp, err := r.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:        r.model,
		Instructions: openai.String(reviewInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", fmt.Errorf("OpenAI returned an empty review")
	}
	obs.From(ctx).With("pkg", "sandbox").Debug("ai_review_generated", "car_id", car.ID, "model", r.model, "chars", len(text))
	return text, nil
}

// CannedReviewer returns a deterministic review built from the listing.
type CannedReviewer struct{}

func (CannedReviewer) Review(_ context.Context, car *db.Car) (string, error) {
	return fmt.Sprintf("The %d %s is a pleasure to drive. %s handled the setup and the %s settings feel well judged.",
		car.Year, car.Title(), car.Director, car.MainSettings), nil
}
