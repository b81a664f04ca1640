// Package fixtures holds the shared identity constants the API, gating,
// and pack tests build their requests from, so the same app, user, and
// workflow names show up consistently across packages.
package fixtures

// App, user, and workflow identities.
const (
	AppID    = "app-001"
	AltAppID = "app-002"
	UserID   = "user-abc-123"
	Workflow = "onboarding"
)

// Token claims for auth tests.
const (
	TestIssuer   = "https://idp.mozaiks.test"
	TestAudience = "mozaiks-api"
)
