package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeID formats the identifier of the ordinal-th node of type t.
func NodeID(t NodeType, ordinal int) string {
	return fmt.Sprintf("%s-%d", t, ordinal)
}

// ParseNodeID splits an identifier produced by NodeID.
func ParseNodeID(id string) (NodeType, int, bool) {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, false
	}
	ordinal, err := strconv.Atoi(id[idx+1:])
	if err != nil || ordinal <= 0 {
		return "", 0, false
	}
	t := NodeType(id[:idx])
	if !t.Valid() {
		return "", 0, false
	}
	return t, ordinal, true
}

// EdgeID formats an edge identifier from its endpoints and creation time.
func EdgeID(source, target string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", source, target, at.UnixMilli())
}
