package main

import (
	"encoding/json"

	"sitewatch/internal/config"
)

func jsonMarshalConfig(cfg config.Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
