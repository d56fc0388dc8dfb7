// Package config handles loading and validating the ingest service
// configuration and its tag list.
//
// This package manages:
//   - Loading configuration from YAML files (JSON files parse unchanged)
//   - Overriding with TAGINGEST_* environment variables
//   - Validation of required fields and ranges
//   - Reading the CSV tag file
//
// Security Considerations:
//   - The upstream user key and storage credentials should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tags, err := config.LoadTags(cfg.Source.TagsFile, logger)
package config
