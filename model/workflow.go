// Package model defines the entity types the core reads from and writes to
// the entity store: workflows, nodes, edges, agents, tools, and executions.
package model

import "time"

// NodeType identifies which variant of Node a record holds.
type NodeType string

const (
	NodeAgent    NodeType = "agent"
	NodeRouter   NodeType = "router"
	NodeParallel NodeType = "parallel"
	NodeJoin     NodeType = "join"
	NodeSubGraph NodeType = "subgraph"
)

// Sentinel node identifiers used in edges.
const (
	StartNode = "__start__"
	EndNode   = "__end__"
)

// Workflow is a static graph definition: nodes, edges, and the extra state
// fields it declares beyond the reserved base keys.
type Workflow struct {
	ID          string
	Name        string
	StateSchema map[string]any // nullable JSON-schema for extra state keys
	Nodes       []Node
	Edges       []Edge
	IsTemplate  bool
}

// NodeByID returns the node with the given local id, or false if absent.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Node is a tagged-variant record. Exactly one of the *Config fields is set,
// matching Type.
type Node struct {
	NodeID string
	Type   NodeType
	Config map[string]any // opaque, node-type-specific extra config

	Agent    *AgentNodeConfig
	Router   *RouterConfig
	Parallel *ParallelConfig
	Join     *JoinConfig
	SubGraph *SubGraphConfig
}

// AgentNodeConfig binds an agent-typed node to its agent definition.
type AgentNodeConfig struct {
	AgentID string
}

// RouterRoute is one conditional branch of a router node.
type RouterRoute struct {
	Condition string
	Target    string
}

// RouterConfig configures a router-typed node.
type RouterConfig struct {
	Routes  []RouterRoute
	Default string
}

// ParallelConfig configures a parallel-typed (fan-out) node.
type ParallelConfig struct {
	ParallelNodes []string
	FanOutKey     string // empty means static fan-out
}

// JoinStrategy selects how a join node aggregates sibling results.
type JoinStrategy string

const (
	JoinMerge  JoinStrategy = "merge"
	JoinList   JoinStrategy = "list"
	JoinConcat JoinStrategy = "concat"
	JoinFirst  JoinStrategy = "first"
)

// JoinConfig configures a join-typed (fan-in) node.
type JoinConfig struct {
	Strategy  JoinStrategy
	OutputKey string
}

// SubGraphConfig configures a subgraph-typed node.
type SubGraphConfig struct {
	SubgraphWorkflowID string
}

// Edge connects two nodes, optionally guarded by a condition expression.
// Source may be StartNode; Target may be EndNode.
type Edge struct {
	SourceNode string
	TargetNode string
	Condition  string // empty means unconditional
}

// LLMConfig names the provider/model an agent calls through.
type LLMConfig struct {
	Provider  string // "openai" | "anthropic" | "google"
	Model     string
	MaxTokens int // 0 means provider default
}

// Agent is the definition an agent-typed node dispatches to.
type Agent struct {
	ID           string
	Instructions string
	LLM          LLMConfig
	OutputSchema map[string]any // nullable JSON-schema for structured output
	ToolIDs      []string
}

// Tool is a capability an agent can bind and an agent-loop may invoke.
type Tool struct {
	ID              string
	Name            string // unique, referenced by LLMs
	FunctionSchema  map[string]any
	ImplementationRef string // "builtin:calculator", "custom:my_tool", ...
	Config          map[string]any
}

// CreatedAt is embedded by entities that track creation time.
type CreatedAt struct {
	CreatedAt time.Time
}
