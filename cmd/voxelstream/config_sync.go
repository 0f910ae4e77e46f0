package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"voxelstream/internal/config"
)

// writeConfigFromEnv materialises a configuration handed over through the
// environment at cfgPath, so a supervisor can configure the process without
// mounting files.
func writeConfigFromEnv(cfgPath string) (bool, error) {
	jsonPayload := os.Getenv("VOXEL_CONFIG_JSON")
	yamlPayload := os.Getenv("VOXEL_CONFIG_YAML_B64")

	if jsonPayload == "" && yamlPayload == "" {
		return false, nil
	}
	if cfgPath == "" {
		return false, errors.New("configuration provided in the environment but no --config path supplied")
	}

	var (
		cfg *config.Config
		err error
	)
	if jsonPayload != "" {
		cfg, err = config.Parse([]byte(jsonPayload), config.FormatJSON)
		if err != nil {
			return false, fmt.Errorf("decode config json: %w", err)
		}
	} else {
		data, err := base64.StdEncoding.DecodeString(yamlPayload)
		if err != nil {
			return false, fmt.Errorf("decode config yaml: %w", err)
		}
		cfg, err = config.Parse(data, config.FormatYAML)
		if err != nil {
			return false, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := config.Write(cfgPath, cfg); err != nil {
		return false, err
	}
	return true, nil
}
