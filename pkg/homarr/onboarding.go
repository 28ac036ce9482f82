package homarr

import (
	"context"
	"fmt"
)

// OnboardingState is the answer of onboard.currentStep.
type OnboardingState struct {
	Current  string `json:"current"`
	Previous string `json:"previous"`
}

// Settings are the server settings applied during onboarding.
type Settings struct {
	Analytics           AnalyticsSettings `json:"analytics"`
	CrawlingAndIndexing CrawlingSettings  `json:"crawlingAndIndexing"`
}

type AnalyticsSettings struct {
	EnableGeneral         bool `json:"enableGeneral"`
	EnableWidgetData      bool `json:"enableWidgetData"`
	EnableIntegrationData bool `json:"enableIntegrationData"`
	EnableUserData        bool `json:"enableUserData"`
}

type CrawlingSettings struct {
	NoIndex              bool `json:"noIndex"`
	NoFollow             bool `json:"noFollow"`
	NoTranslate          bool `json:"noTranslate"`
	NoSiteLinksSearchBox bool `json:"noSiteLinksSearchBox"`
}

// OnboardingStep returns the name of the current onboarding step.
func (c *Client) OnboardingStep(ctx context.Context) (string, error) {
	var out OnboardingState
	if err := c.query(ctx, "onboard.currentStep", nil, &out); err != nil {
		return "", fmt.Errorf("get onboarding step: %w", err)
	}
	return out.Current, nil
}

// AdvanceOnboarding moves onboarding to the next step.
func (c *Client) AdvanceOnboarding(ctx context.Context) error {
	if err := c.mutate(ctx, "onboard.nextStep", nil, nil); err != nil {
		return fmt.Errorf("advance onboarding: %w", err)
	}
	return nil
}

// CreateInitialUser creates the first administrator account.
func (c *Client) CreateInitialUser(ctx context.Context, username, password string) error {
	input := map[string]string{
		"username":        username,
		"password":        password,
		"confirmPassword": password,
	}
	if err := c.mutate(ctx, "user.initUser", input, nil); err != nil {
		return fmt.Errorf("create initial user %q: %w", username, err)
	}
	return nil
}

// ApplySettings stores the onboarding server settings.
func (c *Client) ApplySettings(ctx context.Context, settings Settings) error {
	if err := c.mutate(ctx, "serverSettings.initSettings", settings, nil); err != nil {
		return fmt.Errorf("apply server settings: %w", err)
	}
	return nil
}

// SetColorScheme sets the color scheme of the current user.
func (c *Client) SetColorScheme(ctx context.Context, scheme string) error {
	if err := c.mutate(ctx, "user.changeColorScheme", map[string]string{"colorScheme": scheme}, nil); err != nil {
		return fmt.Errorf("set color scheme: %w", err)
	}
	return nil
}
