package validate

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Query is one validation input. RelevantURLs is the optional curated ground
// truth; queries without it are scored on relevance only.
type Query struct {
	Text           string   `yaml:"query"`
	Category       string   `yaml:"category"`
	ExpectedTopics []string `yaml:"expected_topics,omitempty"`
	RelevantURLs   []string `yaml:"relevant_urls,omitempty"`
}

type batteryFile struct {
	Queries []Query `yaml:"queries"`
}

// LoadBattery reads a query battery from a YAML file:
//
//	queries:
//	  - query: "How do I install the CLI?"
//	    category: "Setup"
//	    expected_topics: [install, download]
//	    relevant_urls:
//	      - https://docs.example.com/install
func LoadBattery(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read battery file: %w", err)
	}
	var f batteryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse battery file %s: %w", path, err)
	}
	if len(f.Queries) == 0 {
		return nil, fmt.Errorf("battery file %s: %w", path, ErrNoQueries)
	}
	for i, q := range f.Queries {
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("battery file %s: query %d has empty text", path, i+1)
		}
	}
	return f.Queries, nil
}

// DefaultBattery covers the themes most documentation corpora share. It
// carries no ground truth; curated relevant URLs are corpus-specific and
// belong in a battery file.
func DefaultBattery() []Query {
	return []Query{
		{Text: "How do I install the software?", Category: "Setup",
			ExpectedTopics: []string{"install", "download", "requirements"}},
		{Text: "What are the system requirements?", Category: "Setup",
			ExpectedTopics: []string{"requirements", "platform", "version"}},
		{Text: "Getting started tutorial for beginners", Category: "Setup",
			ExpectedTopics: []string{"getting started", "tutorial", "quickstart"}},
		{Text: "How do I configure the application?", Category: "Configuration",
			ExpectedTopics: []string{"configuration", "settings", "options"}},
		{Text: "Where are configuration files stored?", Category: "Configuration",
			ExpectedTopics: []string{"config file", "location", "path"}},
		{Text: "How to set environment variables", Category: "Configuration",
			ExpectedTopics: []string{"environment", "variables", "export"}},
		{Text: "Command line options and flags reference", Category: "Usage",
			ExpectedTopics: []string{"CLI", "flags", "options"}},
		{Text: "How do I authenticate with the API?", Category: "API",
			ExpectedTopics: []string{"authentication", "API key", "token"}},
		{Text: "API endpoints and request examples", Category: "API",
			ExpectedTopics: []string{"endpoints", "request", "response"}},
		{Text: "How to troubleshoot common errors", Category: "Troubleshooting",
			ExpectedTopics: []string{"troubleshooting", "errors", "debug"}},
		{Text: "Deploying to production best practices", Category: "Operations",
			ExpectedTopics: []string{"deployment", "production", "scaling"}},
		{Text: "How do I upgrade to a newer version?", Category: "Operations",
			ExpectedTopics: []string{"upgrade", "migration", "changelog"}},
	}
}
