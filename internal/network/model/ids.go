// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// IDAllocator keeps connection ids unique. A taken id becomes "<id>-N", N
// being one more than any suffix issued for id so far or in use now, so a
// suffix is never handed out twice by the same allocator.
type IDAllocator struct {
	suffixes map[string]int
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{suffixes: map[string]int{}}
}

// Unique returns id when it is not in inUse, and a suffixed id otherwise.
func (a *IDAllocator) Unique(id string, inUse []string) string {
	taken := false
	n := a.suffixes[id]
	for _, existing := range inUse {
		if existing == id {
			taken = true
			continue
		}
		rest, ok := strings.CutPrefix(existing, id+"-")
		if !ok {
			continue
		}
		if k, err := strconv.Atoi(rest); err == nil && k > n {
			n = k
		}
	}
	if !taken {
		return id
	}
	n++
	a.suffixes[id] = n
	return fmt.Sprintf("%s-%d", id, n)
}

// LiveIDs returns the ids of the connections not marked for removal.
func (s *NetworkState) LiveIDs() []string {
	var ids []string
	for _, c := range s.Connections {
		if !c.IsRemoved() {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// DedupConnectionIDs renames live connections whose id is already used by
// an earlier live connection. The first holder keeps the id. It returns the
// new id of every renamed connection.
func (s *NetworkState) DedupConnectionIDs(alloc *IDAllocator) map[uuid.UUID]string {
	inUse := s.LiveIDs()
	seen := map[string]bool{}
	var renamed map[uuid.UUID]string
	for _, c := range s.Connections {
		if c.IsRemoved() {
			continue
		}
		if !seen[c.ID] {
			seen[c.ID] = true
			continue
		}
		id := alloc.Unique(c.ID, inUse)
		inUse = append(inUse, id)
		seen[id] = true
		c.ID = id
		if renamed == nil {
			renamed = map[uuid.UUID]string{}
		}
		renamed[c.UUID] = id
	}
	return renamed
}
