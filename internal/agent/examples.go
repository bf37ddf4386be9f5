package agent

import (
	"fmt"
	"os"
	"path/filepath"
)

var exampleScripts = map[string]string{
	"hello.py": `#!/usr/bin/env python3
import os
from datetime import datetime

print("Hello from agent!")
print(f"Timestamp: {datetime.now()}")

name = os.environ.get("PARAM_NAME", "World")
print(f"Hello, {name}!")

for i in range(int(os.environ.get("PARAM_COUNT", "0"))):
    print(f"Message {i + 1}")
`,
	"system_info.sh": `#!/bin/bash
echo "=== System Information ==="
echo "Hostname: $(hostname)"
echo "Date: $(date)"
echo "Uptime: $(uptime)"
echo "Disk Usage:"
df -h
echo ""
echo "Parameters received:"
env | grep "^PARAM_" | sort
`,
}

// PrepareScriptsDir creates dir and writes the example scripts that are not
// already present. It returns the names written.
func PrepareScriptsDir(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}

	var written []string
	for name, content := range exampleScripts {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
			return written, fmt.Errorf("write example script %s: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}
