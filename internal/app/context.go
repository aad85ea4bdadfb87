package app

import (
	"ostisync/internal/config"
)

// ResolveConfig loads the workspace config, falling back to the default
// for the given site code when no ostisync.yml exists yet. An explicit
// config file always wins over the fallback.
func ResolveConfig(workspace, siteCode string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		if siteCode == "" {
			siteCode = "PPPL"
		}
		cfg = config.Default(siteCode)
	}
	if siteCode != "" {
		cfg.Source.SiteCode = siteCode
	}
	return cfg, nil
}
