package elastic

import (
	"fmt"
	"net/url"
)

// indexTemplate is the composable index template installed for log indices.
type indexTemplate struct {
	IndexPatterns []string         `json:"index_patterns"`
	Priority      int              `json:"priority"`
	Template      templateSettings `json:"template"`
}

type templateSettings struct {
	Settings map[string]any `json:"settings"`
	Mappings map[string]any `json:"mappings"`
}

func newIndexTemplate(pattern string) indexTemplate {
	return indexTemplate{
		IndexPatterns: []string{pattern},
		Priority:      100,
		Template: templateSettings{
			Settings: map[string]any{
				"number_of_shards": 1,
			},
			Mappings: map[string]any{
				"dynamic_templates": []any{
					map[string]any{
						"strings_as_keywords": map[string]any{
							"match_mapping_type": "string",
							"mapping": map[string]any{
								"type":         "keyword",
								"ignore_above": 1024,
							},
						},
					},
				},
				"properties": map[string]any{
					"@timestamp": map[string]any{"type": "date"},
					"message":    map[string]any{"type": "text"},
					"level":      map[string]any{"type": "keyword"},
					"logger":     map[string]any{"type": "keyword"},
				},
			},
		},
	}
}

// registerTemplate installs the index template. A failure is not retried.
func (s *Sink) registerTemplate() error {
	name := s.opts.TemplateName
	if name == "" {
		name = s.opts.Index
	}
	pattern := s.opts.TemplatePattern
	if pattern == "" {
		pattern = s.opts.Index + "*"
	}

	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(newIndexTemplate(pattern)).
		Put("/_index_template/" + url.PathEscape(name))
	if err != nil {
		return fmt.Errorf("register index template %s: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("register index template %s: unexpected status %d: %s", name, resp.StatusCode(), truncate(resp.String(), 256))
	}
	return nil
}
