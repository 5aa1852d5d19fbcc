package orchestrator

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Channel is the ordered list of VOD sources a session plays out. Each
// entry after the first is chained onto the one before it.
type Channel struct {
	Sources []string `yaml:"sources"`
	// Loop restarts from the first source after the last one.
	Loop bool `yaml:"loop"`
}

// LoadChannel reads a channel definition from a YAML file:
//
//	loop: true
//	sources:
//	  - https://example.com/a/master.m3u8
//	  - https://example.com/b/master.m3u8
func LoadChannel(path string) (*Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channel file: %w", err)
	}
	var c Channel
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse channel file %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("channel file %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks that the channel has at least one non-empty source.
func (c *Channel) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("no sources")
	}
	for i, s := range c.Sources {
		if s == "" {
			return fmt.Errorf("source %d is empty", i)
		}
	}
	return nil
}

// SourceAt returns the source playing at position pos, and false if the
// channel has ended before pos.
func (c *Channel) SourceAt(pos int) (string, bool) {
	if pos < 0 || len(c.Sources) == 0 {
		return "", false
	}
	if c.Loop {
		return c.Sources[pos%len(c.Sources)], true
	}
	if pos >= len(c.Sources) {
		return "", false
	}
	return c.Sources[pos], true
}
