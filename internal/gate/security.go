package gate

import "go.uber.org/zap"

// SecurityFilter removes tools whose names appear on a fixed blocklist.
type SecurityFilter struct {
	blocklist map[string]struct{}
	logger    *zap.Logger
}

func NewSecurityFilter(blocklist []string, logger *zap.Logger) *SecurityFilter {
	blocked := make(map[string]struct{}, len(blocklist))
	for _, name := range blocklist {
		blocked[name] = struct{}{}
	}
	return &SecurityFilter{blocklist: blocked, logger: logger}
}

func (f *SecurityFilter) Name() string { return "SecurityFilter" }

func (f *SecurityFilter) Apply(tools map[string]*Tool, fctx *FilterContext) map[string]*Tool {
	filtered := make(map[string]*Tool, len(tools))
	var blocked []string
	for name, tool := range tools {
		if _, ok := f.blocklist[name]; ok {
			blocked = append(blocked, name)
			continue
		}
		filtered[name] = tool
	}

	if len(blocked) > 0 {
		f.logger.Debug("security filter blocked tools",
			zap.String("request_id", fctx.RequestID),
			zap.Strings("blocked", blocked),
		)
	}

	return filtered
}
