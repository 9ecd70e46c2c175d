package tools

import (
	"sort"
	"strings"
	"sync"
)

// Inventory maps fully qualified tool names to the MCP server that owns
// them. It is safe for concurrent use.
type Inventory struct {
	mu      sync.RWMutex
	servers map[string]string
}

func NewInventory() *Inventory {
	return &Inventory{servers: make(map[string]string)}
}

// SplitName splits a fully qualified tool name into its server and tool
// parts. The first "." separates them; names without one fall back to the
// first "__". ok is false when neither separator is present.
func SplitName(fq string) (server, tool string, ok bool) {
	if i := strings.Index(fq, "."); i > 0 && i < len(fq)-1 {
		return fq[:i], fq[i+1:], true
	}
	if i := strings.Index(fq, "__"); i > 0 && i < len(fq)-2 {
		return fq[:i], fq[i+2:], true
	}
	return "", fq, false
}

// Replace swaps the inventory's content for the given names. Names with no
// server part are kept and reported with an empty server.
func (inv *Inventory) Replace(names []string) {
	servers := make(map[string]string, len(names))
	for _, fq := range names {
		server, _, _ := SplitName(fq)
		servers[fq] = server
	}
	inv.mu.Lock()
	inv.servers = servers
	inv.mu.Unlock()
}

// Add records tools reported by one server under their qualified names.
func (inv *Inventory) Add(server string, tools []string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, t := range tools {
		inv.servers[server+"."+t] = server
	}
}

// Server returns the server owning a fully qualified tool name.
func (inv *Inventory) Server(fq string) (string, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	s, ok := inv.servers[fq]
	return s, ok
}

// Names returns all fully qualified names, sorted.
func (inv *Inventory) Names() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	names := make([]string, 0, len(inv.servers))
	for fq := range inv.servers {
		names = append(names, fq)
	}
	sort.Strings(names)
	return names
}

// ByServer groups the short tool names by owning server.
func (inv *Inventory) ByServer() map[string][]string {
	out := make(map[string][]string)
	for _, fq := range inv.Names() {
		server, tool, _ := SplitName(fq)
		out[server] = append(out[server], tool)
	}
	return out
}

func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.servers)
}
