package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ajmarsh/storyforge/internal/config"
	"github.com/ajmarsh/storyforge/internal/engine"
	"github.com/ajmarsh/storyforge/internal/prompt"
)

// ErrInference is returned when every backend attempt, including the
// fallback model, fails for a single call.
var ErrInference = errors.New("inference failed")

const extendInstructions = "\n\nIMPORTANT: Your previous draft was %d words, " +
	"below the minimum of %d. Continue and expand the scene to roughly %d words. " +
	"Keep every existing plot point and deepen the scene with sensory detail, " +
	"interiority, and dialogue.\n\nPREVIOUS DRAFT:\n%s"

const tightenInstructions = "\n\nIMPORTANT: Your previous draft was %d words, " +
	"above the maximum of %d. Rewrite the scene at roughly %d words, cutting " +
	"digressions and repetition while keeping every plot point.\n\nPREVIOUS DRAFT:\n%s"

// Request is one prompt to complete. When TargetWords is zero the first
// non-empty response is accepted without length validation.
type Request struct {
	Prompt      string
	TargetWords int
	MinWords    int
	MaxWords    int
	// MaxRetries is the number of regeneration attempts after the first
	// draft misses the word-count window.
	MaxRetries int
	// NumPredict overrides the stage's token budget when positive.
	NumPredict int
}

// Result carries the accepted (or best-effort) text of a completed request.
type Result struct {
	Text      string
	WordCount int
	Attempts  int
	// Warning is set when every attempt missed the word-count window and
	// the closest draft was kept. It is advisory, not an error.
	Warning string
}

// Client runs inference for one pipeline role: a model, its fallback, its
// sampling parameters, and the retry policy around them.
type Client struct {
	engine   engine.Engine
	model    string
	fallback string
	opts     engine.Options
	limiter  *rate.Limiter
	advanced config.AdvancedConfig
	logger   *slog.Logger
}

// NewClient builds a Client for one role.
func NewClient(e engine.Engine, role config.ModelRole, params config.StageParams, advanced config.AdvancedConfig) *Client {
	var limiter *rate.Limiter
	if advanced.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(advanced.RequestsPerMinute)/60, 1)
	}
	return &Client{
		engine:   e,
		model:    role.Model,
		fallback: role.Fallback,
		opts: engine.Options{
			Temperature:   params.Temperature,
			TopP:          params.TopP,
			TopK:          params.TopK,
			RepeatPenalty: params.RepeatPenalty,
			NumPredict:    params.NumPredict,
			NumCtx:        params.NumCtx,
		},
		limiter:  limiter,
		advanced: advanced,
		logger:   slog.Default(),
	}
}

// Model returns the primary model name this client calls.
func (c *Client) Model() string { return c.model }

// Complete runs the request, regenerating with corrective instructions
// while the output misses the word-count window. When every attempt
// misses, the draft closest to the target is returned with a Warning
// rather than an error; only backend failure is an error.
func (c *Client) Complete(ctx context.Context, req Request) (Result, error) {
	opts := c.opts
	if req.NumPredict > 0 {
		opts.NumPredict = req.NumPredict
	}

	prompt := req.Prompt
	var best Result
	bestDist := -1

	maxCalls := req.MaxRetries + 1
	for call := 1; call <= maxCalls; call++ {
		text, err := c.generate(ctx, prompt, opts)
		if err != nil {
			return Result{}, err
		}

		if req.TargetWords == 0 {
			return Result{Text: text, WordCount: CountWords(text), Attempts: call}, nil
		}

		ok, count, verdict := ValidateWordCount(text, req.TargetWords, req.MinWords, req.MaxWords)
		if ok {
			return Result{Text: text, WordCount: count, Attempts: call}, nil
		}
		c.logger.Warn("word count out of bounds", "attempt", call, "verdict", verdict)

		// Ties go to the most recent draft, which saw more instructions.
		if dist := abs(count - req.TargetWords); bestDist < 0 || dist <= bestDist {
			best = Result{Text: text, WordCount: count, Attempts: call}
			bestDist = dist
		}

		if count < req.MinWords {
			prompt = req.Prompt + fmt.Sprintf(extendInstructions, count, req.MinWords, req.TargetWords, text)
		} else {
			prompt = req.Prompt + fmt.Sprintf(tightenInstructions, count, req.MaxWords, req.TargetWords, text)
		}
	}

	best.Attempts = maxCalls
	best.Warning = fmt.Sprintf("word count %d outside [%d, %d] after %d attempts, keeping closest draft",
		best.WordCount, req.MinWords, req.MaxWords, maxCalls)
	return best, nil
}

// Summarize condenses text to at most maxWords using the scene-summary
// template.
func (c *Client) Summarize(ctx context.Context, prompts *prompt.Engine, text string, maxWords int) (string, error) {
	p, err := prompts.Render("summarize_scene", map[string]string{
		"max_words":  strconv.Itoa(maxWords),
		"scene_text": text,
	})
	if err != nil {
		return "", err
	}
	res, err := c.Complete(ctx, Request{Prompt: p})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

// generate makes one logical inference call: rate-limited, retried on
// transport failure or empty output, switching to the fallback model
// after the primary fails.
func (c *Client) generate(ctx context.Context, prompt string, opts engine.Options) (string, error) {
	model := c.model
	var lastErr error

	for attempt := 1; attempt <= c.advanced.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		text, err := c.engine.Generate(ctx, model, prompt, opts)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if err == nil {
			err = errors.New("empty response")
		}
		lastErr = err
		c.logger.Warn("inference attempt failed", "model", model, "attempt", attempt, "error", err)

		if model == c.model && c.fallback != "" && c.fallback != c.model {
			c.logger.Info("switching to fallback model", "fallback", c.fallback)
			model = c.fallback
			continue
		}

		if attempt < c.advanced.MaxAttempts && c.advanced.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.advanced.Delay()):
			}
		}
	}

	return "", fmt.Errorf("%w: model %s after %d attempts: %v", ErrInference, c.model, c.advanced.MaxAttempts, lastErr)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
