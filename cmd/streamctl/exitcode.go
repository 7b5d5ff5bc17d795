package main

import (
	"errors"

	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/rules"
)

const (
	exitOK    = 0
	exitUsage = 1
	exitAuth  = 2
	exitRules = 3
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, auth.ErrAuth):
		return exitAuth
	case errors.Is(err, rules.ErrRuleQuery), errors.Is(err, rules.ErrRuleMutation), errors.Is(err, rules.ErrInvalidRule):
		return exitRules
	default:
		return exitUsage
	}
}
