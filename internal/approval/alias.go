// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package approval

// toolAliases re-files permission prompts for these tools under a dedicated
// kind so the UI can show the matching dialog. The request id is unchanged.
var toolAliases = map[string]Kind{
	"ExitPlanMode":    KindPlan,
	"AskUserQuestion": KindQuestion,
}

// AliasKind returns the kind a request should be filed under. Only
// permission requests are translated.
func AliasKind(kind Kind, toolName string) Kind {
	if kind != KindPermission {
		return kind
	}
	if alias, ok := toolAliases[toolName]; ok {
		return alias
	}
	return kind
}

// AlwaysAsk reports whether saved permission rules are ignored for kind.
func AlwaysAsk(kind Kind) bool {
	return kind != KindPermission
}
