package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Context budget thresholds in estimated tokens. Fixed system constants,
// not configuration.
const (
	hardContextLimit     = 7600
	advisoryContextLimit = 5000
)

// Estimator modes recorded at construction.
const (
	estimatorTiktoken = "tiktoken"
	estimatorApprox   = "approx"
)

// ErrContextBudgetExceeded is returned when the estimated context size is
// over the hard limit and enforcement is active.
var ErrContextBudgetExceeded = errors.New("context budget exceeded")

// Controller composes the filter chain into a single gating decision and
// owns the precomputed per-tool size estimates.
//
// The size table is written once at construction and read thereafter, so
// it is safe for concurrent readers without locking.
type Controller struct {
	allTools map[string]*Tool
	filters  []ToolFilter
	policy   Policy
	logger   *zap.Logger

	encoder   *tiktoken.Tiktoken // nil when the tokenizer is unavailable
	mode      string
	toolSizes map[string]int
	totalSize int
}

// NewController builds the fixed filter pipeline (task type, resource cap,
// security blocklist) and precomputes per-tool size estimates.
func NewController(allTools map[string]*Tool, cfg FilterConfig, policy Policy, logger *zap.Logger) *Controller {
	maxTools := cfg.MaxTools
	if maxTools <= 0 {
		maxTools = policy.DefaultMaxTools
	}

	c := &Controller{
		allTools: allTools,
		filters: []ToolFilter{
			NewTaskTypeFilter(cfg.TaskTypeAllowlists, policy, logger),
			NewResourceFilter(maxTools, logger),
			NewSecurityFilter(cfg.Blocklist, logger),
		},
		policy: policy,
		logger: logger,
	}
	c.precomputeToolSizes()
	return c
}

// AvailableTools runs the filter pipeline for one request and reports
// which filters actually changed the set. A filter whose output equals
// its input is not reported even though it executed.
func (c *Controller) AvailableTools(fctx *FilterContext) (map[string]*Tool, []string) {
	tools := make(map[string]*Tool, len(c.allTools))
	for name, tool := range c.allTools {
		tools[name] = tool
	}

	var applied []string
	for _, f := range c.filters {
		before := tools
		tools = f.Apply(tools, fctx)
		if !sameToolSet(before, tools) {
			applied = append(applied, f.Name())
		}
	}

	return tools, applied
}

// ActiveToolNames lists every tool in the unfiltered catalog.
func (c *Controller) ActiveToolNames() []string {
	names := make([]string, 0, len(c.allTools))
	for name := range c.allTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EstimatorMode reports which size estimator the controller settled on.
func (c *Controller) EstimatorMode() string {
	return c.mode
}

// ContextSize estimates the token cost of the given tool set, enforcing
// the hard limit according to the controller's policy.
func (c *Controller) ContextSize(tools map[string]*Tool) (int, error) {
	return c.ContextSizeEnforced(tools, c.policy.StrictContextLimit)
}

// ContextSizeEnforced estimates the token cost with explicit enforcement
// control. Exceeding the hard limit always logs an error; it returns
// ErrContextBudgetExceeded only when enforce is true. The advisory
// threshold logs a warning but never fails.
func (c *Controller) ContextSizeEnforced(tools map[string]*Tool, enforce bool) (int, error) {
	var tokenCount int
	if len(c.toolSizes) > 0 {
		for name := range tools {
			tokenCount += c.toolSizes[name]
		}
	} else {
		tokenCount = c.estimateSet(tools)
	}

	if tokenCount > hardContextLimit {
		c.logger.Error("context size exceeds hard limit",
			zap.Int("token_count", tokenCount),
			zap.Int("hard_limit", hardContextLimit),
		)
		if enforce {
			return tokenCount, fmt.Errorf("%w: %d tokens over hard limit of %d; reduce tool count or enable stricter filtering",
				ErrContextBudgetExceeded, tokenCount, hardContextLimit)
		}
	}

	if tokenCount > advisoryContextLimit {
		c.logger.Warn("context size exceeds recommended threshold",
			zap.Int("token_count", tokenCount),
			zap.Int("advisory_limit", advisoryContextLimit),
		)
	}

	return tokenCount, nil
}

// precomputeToolSizes estimates each tool's serialized size once.
// Prefers the cl100k_base tokenizer; any failure drops the whole table
// to the byte-length approximation.
func (c *Controller) precomputeToolSizes() {
	c.toolSizes = make(map[string]int, len(c.allTools))

	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		c.logger.Warn("tokenizer unavailable, using byte-length approximation",
			zap.Error(err),
		)
		c.mode = estimatorApprox
	} else {
		c.encoder = encoder
		c.mode = estimatorTiktoken
	}

	for name, tool := range c.allTools {
		c.toolSizes[name] = c.estimateTool(tool)
	}

	c.totalSize = 0
	for _, size := range c.toolSizes {
		c.totalSize += size
	}
}

// estimateTool sizes a single serialized tool descriptor.
func (c *Controller) estimateTool(tool *Tool) int {
	serialized, err := json.Marshal(tool)
	if err != nil {
		return 0
	}
	return c.estimateText(string(serialized))
}

// estimateSet sizes a whole tool set serialized as a JSON array,
// name-ordered for determinism.
func (c *Controller) estimateSet(tools map[string]*Tool) int {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([]*Tool, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, tools[name])
	}

	serialized, err := json.Marshal(ordered)
	if err != nil {
		return 0
	}
	return c.estimateText(string(serialized))
}

func (c *Controller) estimateText(text string) int {
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}
