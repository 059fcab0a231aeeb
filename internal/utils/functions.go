package utils

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ParseSize reads sizes like "512KB", "1MB", "2gb" or a plain byte count.
// Units are binary (1KB = 1024 bytes).
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	for _, suffix := range []struct {
		unit string
		mult int64
	}{
		{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10}, {"B", 1},
	} {
		if strings.HasSuffix(s, suffix.unit) {
			multiplier = suffix.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix.unit))
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %v", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %d", n)
	}
	return n * multiplier, nil
}

func IsURL(address string) bool {
	parsed, err := url.Parse(address)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

type mirrorListFile struct {
	Mirrors []string `yaml:"mirrors"`
}

// ReadMirrorList loads mirror URLs from a YAML file (.yaml/.yml with a
// "mirrors" list) or a plain file with one URL per line.
func ReadMirrorList(filePath string) ([]string, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading mirror list: %v", err)
	}
	var mirrors []string
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		var list mirrorListFile
		if err := yaml.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("error parsing YAML mirror list: %v", err)
		}
		for _, m := range list.Mirrors {
			if m = strings.TrimSpace(m); m != "" {
				mirrors = append(mirrors, m)
			}
		}
	default:
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			mirrors = append(mirrors, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading mirror list: %v", err)
		}
	}
	for i, m := range mirrors {
		if !IsURL(m) {
			return nil, fmt.Errorf("invalid mirror URL on entry %d: %q", i+1, m)
		}
	}
	log.Debug().Int("count", len(mirrors)).Str("file", filePath).Msg("Mirrors loaded from list")
	return mirrors, nil
}
