package oauth

import (
	"os"
	"path/filepath"
	"regexp"
)

// verificationURLPattern and userCodePattern match the device-flow prompts
// these CLIs print to stdout when run with their device-auth flag, e.g.
// "Please visit: https://.../device and enter code ABCD-1234".
var (
	verificationURLPattern = regexp.MustCompile(`(https?://\S+)`)
	userCodePattern        = regexp.MustCompile(`code[: ]+([A-Z0-9-]{4,})`)
)

func homeCredentialsPath(segments ...string) func() (string, error) {
	return func() (string, error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(append([]string{home}, segments...)...), nil
	}
}

// DefaultProviders returns the codex, qwen, and gemini ProviderConfigs:
// each spawns the vendor CLI's device-code login and watches its
// credentials file under the home directory.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Provider:          "codex",
			Command:           "codex",
			Args:              []string{"login", "--device-code"},
			CredentialsPath:   homeCredentialsPath(".codex", "auth.json"),
			VerificationRegex: verificationURLPattern,
			UserCodeRegex:     userCodePattern,
		},
		{
			Provider:          "qwen",
			Command:           "qwen",
			Args:              []string{"auth", "login", "--device-code"},
			CredentialsPath:   homeCredentialsPath(".qwen", "oauth_creds.json"),
			VerificationRegex: verificationURLPattern,
			UserCodeRegex:     userCodePattern,
		},
		{
			Provider:          "gemini",
			Command:           "gemini",
			Args:              []string{"auth", "login", "--device-code"},
			CredentialsPath:   homeCredentialsPath(".gemini", "oauth_creds.json"),
			VerificationRegex: verificationURLPattern,
			UserCodeRegex:     userCodePattern,
		},
	}
}
