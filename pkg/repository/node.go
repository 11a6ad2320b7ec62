package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NextLabel returns the label following prev. The first major version is
// 1.0 and the first minor version is 0.1.
func NextLabel(prev string, major bool) (string, error) {
	maj, min := 0, 0
	if prev != "" {
		parts := strings.SplitN(prev, ".", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("invalid version label %q", prev)
		}
		var err error
		if maj, err = strconv.Atoi(parts[0]); err != nil {
			return "", fmt.Errorf("invalid version label %q", prev)
		}
		if min, err = strconv.Atoi(parts[1]); err != nil {
			return "", fmt.Errorf("invalid version label %q", prev)
		}
	}
	if major {
		return fmt.Sprintf("%d.0", maj+1), nil
	}
	return fmt.Sprintf("%d.%d", maj, min+1), nil
}

// IsMajor reads the version type from CreateVersion properties. Anything but
// MINOR is major.
func IsMajor(props map[string]string) bool {
	return !strings.EqualFold(props[PropVersionType], VersionMinor)
}

// Stamp applies auditable properties unless auditing is disabled. It
// returns a new map and never modifies props.
func Stamp(props map[string]string, opts TxOptions, now time.Time, created bool) map[string]string {
	out := make(map[string]string, len(props)+4)
	for k, v := range props {
		out[k] = v
	}
	if opts.DisableAuditing {
		return out
	}
	ts := now.UTC().Format(time.RFC3339)
	principal := opts.Principal
	if principal == "" {
		principal = "system"
	}
	out[PropModified] = ts
	out[PropModifier] = principal
	if created {
		out[PropCreated] = ts
		out[PropCreator] = principal
	}
	return out
}

// AddAspect appends aspect to aspects if absent
func AddAspect(aspects []string, aspect string) []string {
	for _, a := range aspects {
		if a == aspect {
			return aspects
		}
	}
	return append(aspects, aspect)
}

// CloneNode deep-copies a node
func CloneNode(n *Node) *Node {
	c := *n
	c.Aspects = append([]string(nil), n.Aspects...)
	c.Properties = make(map[string]string, len(n.Properties))
	for k, v := range n.Properties {
		c.Properties[k] = v
	}
	if n.Content != nil {
		cd := *n.Content
		c.Content = &cd
	}
	return &c
}

// ValidateName rejects names that cannot be used as a child name
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty node name")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("node name %q contains a path separator", name)
	}
	return nil
}
