package libvirt

import (
	"bufio"
	"fmt"
	"strings"
)

// BlkDevice is one row of `virsh domblklist --details`.
type BlkDevice struct {
	Type   string
	Device string
	Target string
	// Source is empty when virsh prints "-" (e.g. an empty cdrom).
	Source string
}

// ParseBlkList parses the Type/Device/Target/Source table printed by
// `virsh domblklist --details`. Header and separator rows are skipped, and so
// are rows with fewer than four columns. Source may contain spaces.
func ParseBlkList(out string) []BlkDevice {
	var devs []BlkDevice
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(strings.ToLower(l), "type") || strings.HasPrefix(l, "---") {
			continue
		}
		fields := splitColumns(l, 4)
		if len(fields) < 4 {
			continue
		}
		source := fields[3]
		if source == "-" {
			source = ""
		}
		devs = append(devs, BlkDevice{
			Type:   fields[0],
			Device: fields[1],
			Target: fields[2],
			Source: source,
		})
	}
	return devs
}

// splitColumns splits l on runs of whitespace into at most n columns; the
// last column keeps its inner whitespace.
func splitColumns(l string, n int) []string {
	var cols []string
	for len(cols) < n-1 {
		l = strings.TrimLeft(l, " \t")
		i := strings.IndexAny(l, " \t")
		if i < 0 {
			break
		}
		cols = append(cols, l[:i])
		l = l[i:]
	}
	if rest := strings.TrimSpace(l); rest != "" {
		cols = append(cols, rest)
	}
	return cols
}

// ParseDomainStatus extracts the "State:" value from dominfo output.
func ParseDomainStatus(dominfo string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(dominfo))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "State:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) != 2 {
				continue
			}
			status := strings.TrimSpace(parts[1])
			return status, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error scanning output: %w", err)
	}

	return "", fmt.Errorf("status not found in domain info")
}

// ParseDomStats parses the "key=value" lines of `virsh domstats`. The
// "Domain: 'name'" header is skipped.
func ParseDomStats(out string) map[string]string {
	stats := make(map[string]string)
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(l)
		k, v, ok := strings.Cut(l, "=")
		if !ok {
			continue
		}
		stats[k] = v
	}
	return stats
}

// ParseBlkInfo parses the "Capacity: 123" lines of `virsh domblkinfo`.
func ParseBlkInfo(out string) map[string]uint64 {
	info := make(map[string]uint64)
	for _, l := range strings.Split(out, "\n") {
		fields := strings.Fields(l)
		if len(fields) != 2 || !strings.HasSuffix(fields[0], ":") {
			continue
		}
		var val uint64
		if _, err := fmt.Sscanf(fields[1], "%d", &val); err != nil {
			continue
		}
		info[strings.ToLower(strings.TrimSuffix(fields[0], ":"))] = val
	}
	return info
}
