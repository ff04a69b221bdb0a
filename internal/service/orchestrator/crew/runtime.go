// Crew 执行运行时
// Scheduler 通过 Runtime 接口向 Crew 的 Agent 派发任务并等待执行结果；
// 真实部署中由 Crew 侧的 Agent 进程承接，这里提供本地运行时供开发与联调
package crew

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	missionModel "reachmaster/internal/model/mission"
)

// ProgressFunc 执行中的进度上报回调
// Scheduler 用它刷新任务的 last_progress_at，避免长任务被进度监控误判超时
type ProgressFunc func(note string)

// ExecutionReport 执行结果
type ExecutionReport struct {
	Result string // 结果载荷(JSON)
}

// ExecutionError 执行失败
// FailureClass 是 Crew 侧对失败性质的初判，供 RETRY_DECISION 上下文使用
type ExecutionError struct {
	Message      string
	FailureClass missionModel.FailureClass
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// ClassifyFailure 从执行错误中提取失败分类；非 ExecutionError 一律视为 unknown
func ClassifyFailure(err error) missionModel.FailureClass {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.FailureClass
	}
	return missionModel.FailureUnknown
}

// Runtime Crew 执行运行时接口
type Runtime interface {
	// Execute 同步执行任务，由 Scheduler 在派发 goroutine 中调用
	// 执行期间通过 report 上报进度；取消通过 ctx 传达
	Execute(ctx context.Context, m *missionModel.Mission, report ProgressFunc) (*ExecutionReport, error)
}

// LocalRuntime 本地运行时
// 按任务类型模拟执行耗时，支持脚本化结果注入(联调与测试用)
type LocalRuntime struct {
	mu      sync.Mutex
	scripts map[string]ScriptedResult // missionID -> 预设结果
	latency time.Duration
}

// ScriptedResult 预设的执行结果
type ScriptedResult struct {
	Err    error
	Result string
}

// NewLocalRuntime 创建本地运行时；latency 为模拟执行耗时
func NewLocalRuntime(latency time.Duration) *LocalRuntime {
	return &LocalRuntime{
		scripts: make(map[string]ScriptedResult),
		latency: latency,
	}
}

// Script 为指定任务预设执行结果
func (r *LocalRuntime) Script(missionID string, result ScriptedResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[missionID] = result
}

// Execute 执行任务
func (r *LocalRuntime) Execute(ctx context.Context, m *missionModel.Mission, report ProgressFunc) (*ExecutionReport, error) {
	report("accepted")

	if r.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.latency):
		}
	}

	r.mu.Lock()
	scripted, ok := r.scripts[m.MissionID]
	r.mu.Unlock()
	if ok {
		if scripted.Err != nil {
			return nil, scripted.Err
		}
		return &ExecutionReport{Result: scripted.Result}, nil
	}

	report("executing")
	result, _ := json.Marshal(map[string]interface{}{
		"mission_type": string(m.Type),
		"executed_at":  time.Now().UTC().Format(time.RFC3339),
	})
	return &ExecutionReport{Result: string(result)}, nil
}

// RecoverableError 构造可重试的执行错误
func RecoverableError(format string, args ...interface{}) error {
	return &ExecutionError{
		Message:      fmt.Sprintf(format, args...),
		FailureClass: missionModel.FailureRecoverable,
	}
}

// TerminalError 构造不可重试的执行错误
func TerminalError(format string, args ...interface{}) error {
	return &ExecutionError{
		Message:      fmt.Sprintf(format, args...),
		FailureClass: missionModel.FailureTerminal,
	}
}
