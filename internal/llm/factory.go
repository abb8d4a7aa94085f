package llm

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"group-chatter/internal/config"
)

// Factory creates LLM clients with consistent logic
type Factory struct {
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenRouterReferrer string
	OpenRouterTitle    string
	YandexOAuthToken   string
	YandexFolderID     string
	Options            Options
	Logger             zerolog.Logger
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
		Options:            Options{MaxTokens: cfg.MaxResponseTokens, Temperature: cfg.Temperature},
	}
}

func (f *Factory) CreateClient(provider, model string) (Client, error) {
	switch config.LLMProvider(strings.ToLower(provider)) {
	case config.ProviderOpenAI:
		return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, model, f.OpenRouterReferrer, f.OpenRouterTitle, f.Options), nil
	case config.ProviderYandex:
		if ignored := yandexIgnoredSettings(model, f.Options); len(ignored) > 0 {
			f.Logger.Warn().Strs("ignored", ignored).Str("applied_model", yandexModel).
				Msg("yandex client pins model, temperature and max tokens")
		}
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}
