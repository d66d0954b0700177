package api

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

var (
	//go:embed docs/openapi.yaml
	openAPISource []byte

	//go:embed docs/swagger.html
	swaggerPage []byte

	openAPIDocument = mustOpenAPIJSON(openAPISource)
)

// mustOpenAPIJSON converts the embedded YAML document to JSON once at startup.
func mustOpenAPIJSON(src []byte) []byte {
	doc, err := openAPIJSON(src)
	if err != nil {
		panic(fmt.Sprintf("api: invalid embedded OpenAPI document: %v", err))
	}
	return doc
}

func openAPIJSON(src []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode JSON: %w", err)
	}
	return out, nil
}

func handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(swaggerPage)
}
