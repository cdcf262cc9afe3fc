package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ncolesummers/replysight/pkg/domain"
)

// BasicRegistry is a simple implementation of ToolRegistry
type BasicRegistry struct {
	mu    sync.RWMutex
	tools map[domain.ToolID]domain.EvidenceTool
}

// NewBasicRegistry creates a new basic tool registry
func NewBasicRegistry() *BasicRegistry {
	return &BasicRegistry{
		tools: make(map[domain.ToolID]domain.EvidenceTool),
	}
}

// Register registers a new tool
func (r *BasicRegistry) Register(tool domain.EvidenceTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}

	id := tool.ID()
	if id == "" {
		return fmt.Errorf("tool id cannot be empty")
	}

	if _, exists := r.tools[id]; exists {
		return fmt.Errorf("tool %s already registered", id)
	}

	r.tools[id] = tool
	return nil
}

// Get retrieves a tool by id
func (r *BasicRegistry) Get(id domain.ToolID) (domain.EvidenceTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[id]
	if !exists {
		return nil, fmt.Errorf("tool %s not found", id)
	}

	return tool, nil
}

// List returns all available tools ordered by id
func (r *BasicRegistry) List() []domain.EvidenceTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.EvidenceTool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })

	return tools
}

// Resolve keeps the requested ids that are registered, in the given order.
// Unknown ids are returned separately so callers can log them.
func (r *BasicRegistry) Resolve(ids []domain.ToolID) (known []domain.EvidenceTool, unknown []domain.ToolID) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range ids {
		if tool, ok := r.tools[id]; ok {
			known = append(known, tool)
		} else {
			unknown = append(unknown, id)
		}
	}
	return known, unknown
}

// toolAliases maps names a model may use for a tool onto its id
var toolAliases = map[string]domain.ToolID{
	"academic":        domain.ToolAcademic,
	"arxiv":           domain.ToolAcademic,
	"arxiv_insights":  domain.ToolAcademic,
	"research":        domain.ToolAcademic,
	"web":             domain.ToolWeb,
	"tavily":          domain.ToolWeb,
	"tavily_examples": domain.ToolWeb,
	"examples":        domain.ToolWeb,
}

// NormalizeToolID maps a tool name or alias to its canonical id. Unknown
// names are returned lowercased and trimmed with ok set to false.
func NormalizeToolID(name string) (domain.ToolID, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if id, ok := toolAliases[key]; ok {
		return id, true
	}
	return domain.ToolID(key), false
}

// Describe renders one line per registered tool for the decision prompt
func Describe(registry domain.ToolRegistry) string {
	var b strings.Builder
	for _, tool := range registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", tool.ID(), tool.Description())
	}
	return b.String()
}
