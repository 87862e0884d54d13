package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// keyFileEntry is one key in a YAML key file:
//
//	virustotal:
//	  - secret: "..."
//	    label: personal
//	abuseipdb:
//	  - secret: "..."
type keyFileEntry struct {
	Secret string `yaml:"secret"`
	Label  string `yaml:"label"`
}

// buildKeySet combines environment keys with an optional key file.
// Environment keys come first in each pool, file keys follow in file order.
func buildKeySet(path string, seeds map[entity.Provider]string, now time.Time) (entity.KeySet, error) {
	ks := make(entity.KeySet)
	added := now

	next := func(p entity.Provider, secret, label string) {
		ks[p] = append(ks[p], entity.APIKeyConfig{
			ID:      uuid.NewString(),
			Secret:  secret,
			Label:   label,
			AddedAt: added,
		})
		added = added.Add(time.Millisecond)
	}

	for _, p := range entity.AllProviders() {
		if secret := seeds[p]; secret != "" {
			next(p, secret, "env")
		}
	}

	if path == "" {
		return ks, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file map[string][]keyFileEntry
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, p := range entity.AllProviders() {
		for name, entries := range file {
			parsed, err := entity.ParseProvider(name)
			if err != nil {
				return nil, fmt.Errorf("%s: %w: %s", path, err, name)
			}
			if parsed != p {
				continue
			}
			for _, e := range entries {
				if e.Secret != "" {
					next(p, e.Secret, e.Label)
				}
			}
		}
	}

	return ks, nil
}
