package secrets

// DefaultRules covers the secret shapes most likely to appear in coding
// assistant transcripts: provider API keys, VCS tokens, connection URLs
// with inline credentials, and key material blocks.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "aws-access-key-id",
			Pattern:  `(?i)(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|ASIA)[A-Z0-9]{16}`,
			Keywords: []string{"aws", "akia", "asia"},
		},
		{
			ID:      "aws-secret-access-key",
			Pattern: `(?i)(?:aws_secret_access_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
		},
		{
			ID:      "github-token",
			Pattern: `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`,
		},
		{
			ID:      "github-fine-grained",
			Pattern: `github_pat_[A-Za-z0-9_]{22,}`,
		},
		{
			ID:      "gitlab-token",
			Pattern: `glpat-[A-Za-z0-9\-]{20,}`,
		},
		{
			ID:      "anthropic-api-key",
			Pattern: `sk-ant-[A-Za-z0-9_\-]{90,}`,
		},
		{
			ID:      "openai-api-key",
			Pattern: `sk-[A-Za-z0-9]{48,}`,
		},
		{
			ID:      "slack-token",
			Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`,
		},
		{
			ID:      "stripe-key",
			Pattern: `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`,
		},
		{
			ID:      "npm-token",
			Pattern: `npm_[A-Za-z0-9]{36}`,
		},
		{
			ID:      "google-api-key",
			Pattern: `AIza[A-Za-z0-9_\-]{35}`,
		},
		{
			ID:      "jwt",
			Pattern: `eyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`,
		},
		{
			ID:      "private-key-block",
			Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`,
		},
		{
			ID:       "database-url",
			Pattern:  `(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:/\s]+:[^@\s]+@[^\s]+`,
			Keywords: []string{"://"},
		},
		{
			ID:      "generic-api-key",
			Pattern: `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
		},
		{
			ID:      "generic-password",
			Pattern: `(?i)(?:password|passwd|secret[_-]?key|auth[_-]?token|access[_-]?token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
		},
	}
}
