package gate

import (
	"strings"

	"go.uber.org/zap"
)

// TaskTypeFilter narrows the tool set to the resolved task type(s).
// Allowlist keys are canonicalized at construction and reachable through
// derived aliases ("storage" for "storage-ops", "storage_ops", "storageops").
type TaskTypeFilter struct {
	allowlists map[string][]string
	aliases    map[string]string
	policy     Policy
	logger     *zap.Logger
}

// NewTaskTypeFilter builds the filter, canonicalizing every allowlist key
// and recording alias candidates. Aliases never shadow a canonical key.
func NewTaskTypeFilter(allowlists map[string][]string, policy Policy, logger *zap.Logger) *TaskTypeFilter {
	normalized := make(map[string][]string, len(allowlists))
	for rawKey, names := range allowlists {
		canonical := normalizeKey(rawKey)
		if canonical == "" {
			continue
		}
		normalized[canonical] = names
	}

	aliases := make(map[string]string)
	for canonical := range normalized {
		for _, alias := range aliasCandidates(canonical) {
			if _, taken := normalized[alias]; taken {
				continue
			}
			if _, taken := aliases[alias]; taken {
				continue
			}
			aliases[alias] = canonical
		}
	}

	return &TaskTypeFilter{
		allowlists: normalized,
		aliases:    aliases,
		policy:     policy,
		logger:     logger,
	}
}

func (f *TaskTypeFilter) Name() string { return "TaskTypeFilter" }

// Apply resolves the request's task types and intersects the merged
// allowlist with each tool's own declared task types.
func (f *TaskTypeFilter) Apply(tools map[string]*Tool, fctx *FilterContext) map[string]*Tool {
	// A query was supplied, classification ran and matched nothing, and
	// policy forbids guessing: return nothing rather than everything.
	if fctx.QuerySet && fctx.DetectedTaskTypes != nil && len(fctx.DetectedTaskTypes) == 0 &&
		(f.policy.StrictContextLimit || !f.policy.IntentFallbackToAll) {
		f.logger.Warn("strict no-match mode: returning empty tool set",
			zap.String("request_id", fctx.RequestID),
			zap.String("query", truncateQuery(fctx.Query)),
		)
		return map[string]*Tool{}
	}

	taskTypes, source := f.resolveTaskTypes(fctx)
	taskTypes = f.normalizeTaskTypes(taskTypes)

	// No task signal at all: expose everything except meta tooling.
	if len(taskTypes) == 0 {
		filtered := make(map[string]*Tool, len(tools))
		for name, tool := range tools {
			if !tool.HasTaskType(metaOpsTaskType) {
				filtered[name] = tool
			}
		}
		f.logger.Debug("task type filter excluded meta-ops tools by default",
			zap.String("request_id", fctx.RequestID),
			zap.Int("remaining", len(filtered)),
		)
		return filtered
	}

	merged := f.mergeAllowlists(taskTypes)

	if len(merged) == 0 {
		if f.policy.StrictContextLimit || !f.policy.IntentFallbackToAll {
			f.logger.Warn("no tools allowlisted for task types; returning empty set",
				zap.String("request_id", fctx.RequestID),
				zap.String("source", source),
			)
			return map[string]*Tool{}
		}
		f.logger.Warn("no tools allowlisted for task types; returning all tools (fallback enabled)",
			zap.String("request_id", fctx.RequestID),
			zap.String("source", source),
		)
		return tools
	}

	// A tool must pass both the administrator's allowlist and its own
	// declared applicability.
	filtered := make(map[string]*Tool)
	for name, tool := range tools {
		if _, allowed := merged[name]; !allowed {
			continue
		}
		for _, tt := range taskTypes {
			if tool.HasTaskType(tt) {
				filtered[name] = tool
				break
			}
		}
	}

	f.logger.Debug("task type filter applied",
		zap.String("request_id", fctx.RequestID),
		zap.Strings("task_types", taskTypes),
		zap.Int("remaining", len(filtered)),
	)

	return filtered
}

// resolveTaskTypes applies the precedence policy to pick the label source.
func (f *TaskTypeFilter) resolveTaskTypes(fctx *FilterContext) ([]string, string) {
	if f.policy.IntentPrecedence == PrecedenceIntent {
		if len(fctx.DetectedTaskTypes) > 0 {
			return fctx.DetectedTaskTypes, "intent"
		}
		if fctx.TaskType != "" {
			return []string{fctx.TaskType}, "explicit"
		}
	} else {
		if fctx.TaskType != "" {
			return []string{fctx.TaskType}, "explicit"
		}
		if len(fctx.DetectedTaskTypes) > 0 {
			return fctx.DetectedTaskTypes, "intent"
		}
	}
	return nil, "none"
}

// normalizeTaskTypes canonicalizes labels and resolves aliases. Labels
// matching neither an allowlist key nor an alias are dropped, so an
// unresolvable label behaves like no label at all.
func (f *TaskTypeFilter) normalizeTaskTypes(taskTypes []string) []string {
	var normalized []string
	for _, tt := range taskTypes {
		key := normalizeKey(tt)
		if key == "" {
			continue
		}
		if _, ok := f.allowlists[key]; ok {
			normalized = append(normalized, key)
			continue
		}
		if canonical, ok := f.aliases[key]; ok {
			normalized = append(normalized, canonical)
		}
	}
	return normalized
}

// mergeAllowlists unions the permitted tool names across all resolved labels.
func (f *TaskTypeFilter) mergeAllowlists(taskTypes []string) map[string]struct{} {
	merged := make(map[string]struct{})
	for _, tt := range taskTypes {
		for _, name := range f.allowlists[tt] {
			merged[name] = struct{}{}
		}
	}
	return merged
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// aliasCandidates derives the lookup aliases for a canonical key.
func aliasCandidates(canonical string) []string {
	var aliases []string

	if trimmed := strings.TrimSuffix(canonical, "-ops"); trimmed != canonical && trimmed != "" {
		aliases = append(aliases, trimmed)
	}

	underscored := strings.ReplaceAll(canonical, "-", "_")
	if underscored != canonical {
		aliases = append(aliases, underscored)
	}

	compact := strings.ReplaceAll(underscored, "_", "")
	if compact != canonical && compact != "" {
		aliases = append(aliases, compact)
	}

	return aliases
}

func truncateQuery(q string) string {
	if len(q) > 100 {
		return q[:100] + "..."
	}
	return q
}
