package e2e

import (
	"github.com/cucumber/godog"

	"conubium/e2e/steps/common"
	"conubium/e2e/steps/registry"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Generic request and assertion steps
	common.RegisterSteps(ctx, tc)

	// Marriage lifecycle steps
	registry.RegisterSteps(ctx, tc)
}
