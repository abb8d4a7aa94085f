package llm

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Morwran/yagpt"
)

// yagpt fixes these per request; they cannot be overridden.
const (
	yandexModel       = yagpt.YaModelLite
	yandexTemperature = 0.6
	yandexMaxTokens   = 2000
)

// iamRefreshMargin renews the IAM token this long before it expires.
const iamRefreshMargin = 5 * time.Minute

type YandexClient struct {
	ya  yagpt.YaGPTFace
	iam yagpt.IamFace
	now func() time.Time

	mu       sync.Mutex
	iamToken string
	expires  time.Time
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		_ = iam.Close()
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}
	c := newYandexClient(ya, iam)
	if _, err := c.token(context.Background()); err != nil {
		_ = iam.Close()
		return nil, err
	}
	return c, nil
}

func newYandexClient(ya yagpt.YaGPTFace, iam yagpt.IamFace) *YandexClient {
	return &YandexClient{ya: ya, iam: iam, now: time.Now}
}

// token returns a cached IAM token, exchanging the OAuth token again when the
// cached one is about to expire.
func (c *YandexClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iamToken != "" && c.now().Before(c.expires.Add(-iamRefreshMargin)) {
		return c.iamToken, nil
	}
	resp, err := c.iam.CreateWithCtx(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create iam token: %w", err)
	}
	c.iamToken, c.expires = resp.IamToken, resp.ExpiresAt
	return c.iamToken, nil
}

func (c *YandexClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return Response{}, err
	}
	yaMsgs := make([]yagpt.Message, 0, len(messages))
	for _, m := range messages {
		yaMsgs = append(yaMsgs, yagpt.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := c.ya.CompletionWithCtx(ctx, tok, yaMsgs)
	if err != nil {
		return Response{}, fmt.Errorf("yagpt completion failed: %w", err)
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return Response{}, fmt.Errorf("yagpt returned empty response")
	}
	model := yandexModel
	if resp.ModelVersion != "" {
		model += "/" + resp.ModelVersion
	}
	return Response{
		Content:          resp.Alternatives[0].Message.Content,
		Model:            model,
		PromptTokens:     int(resp.Usage.InputTextTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}, nil
}

func (c *YandexClient) Close() error { return c.iam.Close() }

// yandexIgnoredSettings lists configured values the Yandex client cannot
// honour because yagpt pins them.
func yandexIgnoredSettings(model string, opts Options) []string {
	var out []string
	if model != "" && model != yandexModel {
		out = append(out, "model="+model)
	}
	if opts.MaxTokens > 0 && opts.MaxTokens != yandexMaxTokens {
		out = append(out, fmt.Sprintf("max_tokens=%d", opts.MaxTokens))
	}
	if opts.Temperature != 0 && math.Abs(float64(opts.Temperature)-yandexTemperature) > 1e-6 {
		out = append(out, fmt.Sprintf("temperature=%.2f", opts.Temperature))
	}
	return out
}
