package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/quantclan/HedgeCouncil/internal/analysis"
	"github.com/quantclan/HedgeCouncil/internal/config"
)

var tickerRe = regexp.MustCompile(`^[A-Z0-9.-]+$`)

// runInteractive prompts for the analysis parameters and runs until
// the user quits.
func runInteractive(ctx context.Context) error {
	svc, manager, err := buildService(ctx)
	if err != nil {
		return err
	}
	cfg := manager.Get()

	fmt.Println("HedgeCouncil interactive mode. Ctrl+C to quit.")
	for {
		params, err := promptParams(cfg)
		if err != nil {
			return err
		}
		if err := runAnalysis(ctx, svc, params); err != nil {
			fmt.Printf("error: %v\n", err)
		}

		again := false
		if err := survey.AskOne(&survey.Confirm{Message: "Analyze another ticker?", Default: true}, &again); err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
}

func promptParams(cfg config.Config) (analysis.Params, error) {
	var ticker string
	err := survey.AskOne(&survey.Input{
		Message: "Ticker symbol (e.g. AAPL, MSFT):",
	}, &ticker, survey.WithValidator(func(val interface{}) error {
		str := strings.TrimSpace(strings.ToUpper(val.(string)))
		if str == "" {
			return fmt.Errorf("ticker cannot be empty")
		}
		if len(str) > 10 {
			return fmt.Errorf("ticker too long (max 10 characters)")
		}
		if !tickerRe.MatchString(str) {
			return fmt.Errorf("use letters, numbers, dots and hyphens only")
		}
		return nil
	}))
	if err != nil {
		return analysis.Params{}, err
	}

	numOfNews := cfg.NumOfNews
	if err := survey.AskOne(&survey.Input{
		Message: "Number of news articles:",
		Default: fmt.Sprintf("%d", cfg.NumOfNews),
	}, &numOfNews); err != nil {
		return analysis.Params{}, err
	}

	showReasoning := false
	if err := survey.AskOne(&survey.Confirm{
		Message: "Show each agent's reasoning?",
		Default: false,
	}, &showReasoning); err != nil {
		return analysis.Params{}, err
	}

	return analysis.Params{
		Ticker:        strings.TrimSpace(strings.ToUpper(ticker)),
		NumOfNews:     numOfNews,
		ShowReasoning: showReasoning,
		ShowSummary:   true,
	}, nil
}

func configJSON(cfg config.Config) (string, error) {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
