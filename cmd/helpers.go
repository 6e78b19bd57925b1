package cmd

import (
	"github.com/dayuer/qqbridge/internal/config"
	"github.com/dayuer/qqbridge/internal/logger"
)

// resolveAccounts merges accounts.yaml specs over the config.json OneBot
// defaults. No accounts.yaml means single-account mode from config.json.
func resolveAccounts(cfg config.Config) []config.Account {
	ob := cfg.Channel.OneBot
	if ob == nil {
		return nil
	}
	specs, err := config.LoadAccountSpecs(config.GetAccountsPath())
	if err != nil {
		logger.Named("config").Warnf("accounts.yaml: %v", err)
	}
	return ob.ResolveAccounts(specs)
}

// maskToken hides most of a secret for status output.
func maskToken(token string) string {
	if token == "" {
		return "(none)"
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
