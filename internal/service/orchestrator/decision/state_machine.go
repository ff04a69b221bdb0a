package decision

import (
	missionModel "reachmaster/internal/model/mission"
)

// stateTable 第1层查表
// 键为 (请求类型, 上下文 StateKey)，值为决策值；命中即返回，置信度恒为 1.0
// 只收录完全无歧义的情形——表里查不到就老老实实走规则层
var stateTable = map[missionModel.DecisionRequestType]map[string]string{
	missionModel.RequestRetryDecision: {
		// 终态任务(含已取消)不再重试
		"terminal": missionModel.DecideFailTerminal,
	},
	missionModel.RequestDomainSelection: {
		// Campaign 专属域名优先于一切共享池
		"dedicated": missionModel.DecideDedicated,
		// 三层偏好: dedicated > custom > pre_warmed
		"custom_available":    missionModel.DecideCustom,
		"prewarmed_available": missionModel.DecidePrewarmed,
	},
	missionModel.RequestEligibilityCheck: {
		// 只有 queued 状态的任务才能被派发
		"not_queued": missionModel.DecideReject,
		// 配置中不存在的 Crew 无法承接任务
		"unknown_crew": missionModel.DecideReject,
	},
}

// lookupState 查表；未命中返回 false 交给下一层
func lookupState(reqType missionModel.DecisionRequestType, key string) (string, bool) {
	table, ok := stateTable[reqType]
	if !ok {
		return "", false
	}
	value, ok := table[key]
	return value, ok
}
