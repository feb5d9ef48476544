package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed content.yaml
var defaultContent []byte

// Content is the product copy the bot speaks with.
type Content struct {
	DefaultPrompt string   `yaml:"default_prompt"`
	GlobalPrompt  string   `yaml:"global_prompt"`
	SpamKeywords  []string `yaml:"spam_keywords"`
}

// DefaultContent returns the built-in prompts and spam list.
func DefaultContent() Content {
	var c Content
	if err := yaml.Unmarshal(defaultContent, &c); err != nil {
		panic(fmt.Sprintf("config: embedded content.yaml: %v", err))
	}
	return c
}

// LoadContent reads a YAML content file over the defaults. Fields absent from
// the file keep their default; an explicit empty spam_keywords list clears it.
func LoadContent(path string) (Content, error) {
	c := DefaultContent()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read content file: %w", err)
	}
	var file struct {
		DefaultPrompt *string   `yaml:"default_prompt"`
		GlobalPrompt  *string   `yaml:"global_prompt"`
		SpamKeywords  *[]string `yaml:"spam_keywords"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return c, fmt.Errorf("parse content file: %w", err)
	}
	if file.DefaultPrompt != nil {
		c.DefaultPrompt = *file.DefaultPrompt
	}
	if file.GlobalPrompt != nil {
		c.GlobalPrompt = *file.GlobalPrompt
	}
	if file.SpamKeywords != nil {
		c.SpamKeywords = *file.SpamKeywords
	}
	return c, nil
}
