/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package process provides child process lifecycle management.
// process 包提供子进程生命周期管理功能。
//
// This package provides:
// 此包提供：
// - Start and Stop methods / 启动、停止方法
// - Crash detection through a reaper goroutine / 通过回收 goroutine 检测进程崩溃
// - Graceful shutdown with timeout / 带超时的优雅关闭
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Common errors for process management
// 进程管理的常见错误
var (
	// ErrProcessNotFound indicates the process was not found
	// ErrProcessNotFound 表示进程未找到
	ErrProcessNotFound = errors.New("process not found")

	// ErrProcessAlreadyRunning indicates the process is already running
	// ErrProcessAlreadyRunning 表示进程已在运行
	ErrProcessAlreadyRunning = errors.New("process is already running")

	// ErrStartFailed indicates the process failed to start
	// ErrStartFailed 表示进程启动失败
	ErrStartFailed = errors.New("process failed to start")

	// ErrStopTimeout indicates the process did not exit even after SIGKILL
	// ErrStopTimeout 表示发送 SIGKILL 后进程仍未退出
	ErrStopTimeout = errors.New("process stop timed out")

	// ErrInvalidPath indicates an empty or missing executable
	// ErrInvalidPath 表示可执行文件为空或不存在
	ErrInvalidPath = errors.New("invalid executable path")
)

// ProcessStatus represents the status of a managed process
// ProcessStatus 表示托管进程的状态
type ProcessStatus string

const (
	StatusStarting ProcessStatus = "starting"
	StatusRunning  ProcessStatus = "running"
	StatusStopping ProcessStatus = "stopping"
	StatusStopped  ProcessStatus = "stopped"
	// StatusCrashed indicates the process exited without being asked to
	// StatusCrashed 表示进程未经请求自行退出
	StatusCrashed ProcessStatus = "crashed"
	StatusError   ProcessStatus = "error"
)

// Default configuration values
// 默认配置值
const (
	// DefaultGracefulTimeout is the default timeout between SIGTERM and SIGKILL
	// DefaultGracefulTimeout 是 SIGTERM 与 SIGKILL 之间的默认等待时间
	DefaultGracefulTimeout = 10 * time.Second

	// DefaultLogTailLines is the default number of log lines to collect on failure
	// DefaultLogTailLines 是失败时收集的默认日志行数
	DefaultLogTailLines = 50

	// killWaitTimeout bounds the wait after SIGKILL
	killWaitTimeout = 5 * time.Second
)

// ProcessEvent represents a process lifecycle event
// ProcessEvent 表示进程生命周期事件
type ProcessEvent string

const (
	EventStarted ProcessEvent = "started"
	EventStopped ProcessEvent = "stopped"
	EventCrashed ProcessEvent = "crashed"
)

// ProcessEventHandler is a callback for process events
// ProcessEventHandler 是进程事件的回调
type ProcessEventHandler func(name string, event ProcessEvent, info *ProcessInfo)

// ProcessInfo contains information about a process for external use
// ProcessInfo 包含用于外部使用的进程信息
type ProcessInfo struct {
	Name      string        `json:"name"`
	PID       int           `json:"pid"`
	Status    ProcessStatus `json:"status"`
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
	ExitCode  int           `json:"exit_code"`
	LogFile   string        `json:"log_file,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// StartParams contains parameters for starting a process
// StartParams 包含启动进程的参数
type StartParams struct {
	// Path is the executable / Path 是可执行文件
	Path string `json:"path"`

	Args []string `json:"args,omitempty"`

	// Dir is the working directory / Dir 是工作目录
	Dir string `json:"dir,omitempty"`

	// Environment variables appended to the current environment
	// 追加到当前环境的环境变量
	Environment map[string]string `json:"environment,omitempty"`

	// LogFile receives stdout and stderr, discarded when empty
	// LogFile 接收标准输出和标准错误，为空时丢弃
	LogFile string `json:"log_file,omitempty"`
}

// StopParams contains parameters for stopping a process
// StopParams 包含停止进程的参数
type StopParams struct {
	// Timeout is the wait between SIGTERM and SIGKILL (defaults to the manager's graceful timeout)
	// Timeout 是 SIGTERM 与 SIGKILL 之间的等待时间（默认为管理器的优雅关闭超时）
	Timeout time.Duration `json:"timeout,omitempty"`
}

// managedProcess represents a process managed by the ProcessManager
// managedProcess 表示由 ProcessManager 管理的进程
type managedProcess struct {
	name      string
	cmd       *exec.Cmd
	logFile   string
	startTime time.Time
	done      chan struct{} // closed by the reaper / 由回收 goroutine 关闭

	mu        sync.RWMutex
	status    ProcessStatus
	exitCode  int
	lastError string
}

func (p *managedProcess) info() *ProcessInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := &ProcessInfo{
		Name:      p.name,
		Status:    p.status,
		StartTime: p.startTime,
		ExitCode:  p.exitCode,
		LogFile:   p.logFile,
		LastError: p.lastError,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	if p.status == StatusRunning {
		info.Uptime = time.Since(p.startTime)
	}
	return info
}

func (p *managedProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ProcessManager manages child process lifecycle
// ProcessManager 管理子进程生命周期
type ProcessManager struct {
	// processes stores managed processes by name
	// processes 按名称存储托管进程
	processes sync.Map

	logger *zap.Logger

	mu              sync.RWMutex
	gracefulTimeout time.Duration
	eventHandler    ProcessEventHandler
}

// NewProcessManager creates a new ProcessManager instance
// NewProcessManager 创建一个新的 ProcessManager 实例
func NewProcessManager(logger *zap.Logger) *ProcessManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessManager{
		logger:          logger,
		gracefulTimeout: DefaultGracefulTimeout,
	}
}

// SetGracefulTimeout sets the graceful shutdown timeout
// SetGracefulTimeout 设置优雅关闭超时时间
func (m *ProcessManager) SetGracefulTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gracefulTimeout = timeout
}

// SetEventHandler sets the event handler callback
// SetEventHandler 设置事件处理回调
func (m *ProcessManager) SetEventHandler(handler ProcessEventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventHandler = handler
}

// notifyEvent notifies the event handler of a process event
// notifyEvent 通知事件处理程序进程事件
func (m *ProcessManager) notifyEvent(event ProcessEvent, proc *managedProcess) {
	m.mu.RLock()
	handler := m.eventHandler
	m.mu.RUnlock()

	if handler != nil {
		handler(proc.name, event, proc.info())
	}
}

// StartProcess starts a child process and returns once it has been spawned
// StartProcess 启动子进程，进程创建成功后立即返回
func (m *ProcessManager) StartProcess(ctx context.Context, name string, params *StartParams) error {
	if params == nil {
		return errors.New("start params is nil")
	}
	if params.Path == "" {
		return ErrInvalidPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Check if process already exists and is running
	// 检查进程是否已存在且正在运行
	if existing, ok := m.processes.Load(name); ok {
		if !existing.(*managedProcess).exited() {
			return fmt.Errorf("%w: %s", ErrProcessAlreadyRunning, name)
		}
	}

	if _, err := os.Stat(params.Path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPath, params.Path, err)
	}

	cmd := buildCommand(params)

	// Set up log capture / 设置日志捕获
	var logWriter *os.File
	if params.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(params.LogFile), 0755); err != nil {
			return fmt.Errorf("%w: create log directory: %v", ErrStartFailed, err)
		}
		f, err := os.OpenFile(params.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("%w: create log file: %v", ErrStartFailed, err)
		}
		logWriter = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	proc := &managedProcess{
		name:    name,
		cmd:     cmd,
		logFile: params.LogFile,
		done:    make(chan struct{}),
		status:  StatusStarting,
	}

	if err := cmd.Start(); err != nil {
		if logWriter != nil {
			_ = logWriter.Close()
		}
		return fmt.Errorf("%w: %s: %v", ErrStartFailed, name, err)
	}

	proc.mu.Lock()
	proc.startTime = time.Now()
	proc.status = StatusRunning
	proc.mu.Unlock()
	m.processes.Store(name, proc)

	m.logger.Info("process started",
		zap.String("name", name),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("path", params.Path))
	m.notifyEvent(EventStarted, proc)

	go m.reap(proc, logWriter)
	return nil
}

// reap waits for the process to exit and records how it ended
// reap 等待进程退出并记录退出方式
func (m *ProcessManager) reap(proc *managedProcess, logWriter *os.File) {
	err := proc.cmd.Wait()
	if logWriter != nil {
		_ = logWriter.Close()
	}

	proc.mu.Lock()
	requested := proc.status == StatusStopping
	proc.exitCode = proc.cmd.ProcessState.ExitCode()
	if requested {
		proc.status = StatusStopped
	} else {
		proc.status = StatusCrashed
		if err != nil {
			proc.lastError = err.Error()
		} else {
			proc.lastError = "process exited unexpectedly / 进程意外退出"
		}
	}
	proc.mu.Unlock()
	close(proc.done)

	if requested {
		m.notifyEvent(EventStopped, proc)
		return
	}
	m.logger.Warn("process exited unexpectedly",
		zap.String("name", proc.name),
		zap.Int("exit_code", proc.exitCode),
		zap.Error(err))
	m.notifyEvent(EventCrashed, proc)
}

// StopProcess stops a managed process
// StopProcess 停止托管进程
// Send SIGTERM to the process group, wait for graceful shutdown, send SIGKILL on timeout
// 向进程组发送 SIGTERM、等待进程优雅关闭、若超时则发送 SIGKILL
func (m *ProcessManager) StopProcess(ctx context.Context, name string, params *StopParams) error {
	value, ok := m.processes.Load(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProcessNotFound, name)
	}
	proc := value.(*managedProcess)

	// Set timeout / 设置超时
	m.mu.RLock()
	timeout := m.gracefulTimeout
	m.mu.RUnlock()
	if params != nil && params.Timeout > 0 {
		timeout = params.Timeout
	}

	proc.mu.Lock()
	if proc.status != StatusRunning && proc.status != StatusStopping {
		proc.mu.Unlock()
		return nil
	}
	proc.status = StatusStopping
	pid := proc.cmd.Process.Pid
	proc.mu.Unlock()

	if err := terminate(proc.cmd); err != nil {
		m.logger.Debug("send SIGTERM failed", zap.String("name", name), zap.Int("pid", pid), zap.Error(err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-proc.done:
		m.logger.Info("process stopped", zap.String("name", name), zap.Int("pid", pid))
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Force kill / 强制杀死
	m.logger.Warn("process did not exit gracefully, sending SIGKILL", zap.String("name", name), zap.Int("pid", pid))
	_ = kill(proc.cmd)

	select {
	case <-proc.done:
		return nil
	case <-time.After(killWaitTimeout):
		return fmt.Errorf("%w: %s (pid %d)", ErrStopTimeout, name, pid)
	}
}

// StopAll stops all managed processes
// StopAll 停止所有托管进程
func (m *ProcessManager) StopAll(ctx context.Context) error {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		err error
	)

	m.processes.Range(func(key, value any) bool {
		name := key.(string)
		if value.(*managedProcess).exited() {
			return true
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			stopErr := m.StopProcess(ctx, name, nil)
			mu.Lock()
			err = multierr.Append(err, stopErr)
			mu.Unlock()
		}()
		return true
	})
	wg.Wait()

	return err
}

// GetStatus returns the status of a managed process
// GetStatus 返回托管进程的状态
func (m *ProcessManager) GetStatus(ctx context.Context, name string) (*ProcessInfo, error) {
	value, ok := m.processes.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, name)
	}
	return value.(*managedProcess).info(), nil
}

// ListProcesses returns information about all managed processes
// ListProcesses 返回所有托管进程的信息
func (m *ProcessManager) ListProcesses() []*ProcessInfo {
	var processes []*ProcessInfo
	m.processes.Range(func(_, value any) bool {
		processes = append(processes, value.(*managedProcess).info())
		return true
	})
	return processes
}

// RemoveProcess removes a process from management (does not stop it)
// RemoveProcess 从管理中移除进程（不停止它）
func (m *ProcessManager) RemoveProcess(name string) {
	m.processes.Delete(name)
}

// IsRunning checks if a process is running
// IsRunning 检查进程是否正在运行
func (m *ProcessManager) IsRunning(name string) bool {
	value, ok := m.processes.Load(name)
	if !ok {
		return false
	}
	return !value.(*managedProcess).exited()
}

// buildCommand builds the command for the given parameters
// buildCommand 根据参数构建命令
func buildCommand(params *StartParams) *exec.Cmd {
	cmd := exec.Command(params.Path, params.Args...)
	cmd.Dir = params.Dir

	// Set environment variables / 设置环境变量
	cmd.Env = os.Environ()
	for k, v := range params.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// Put the child into its own process group so that signals reach its children too
	// 将子进程放入独立进程组，信号可以同时送达其子进程
	setProcGroupAttr(cmd)
	return cmd
}

// ReadLogTail returns the last lines of a log file
// ReadLogTail 返回日志文件的最后 N 行
func ReadLogTail(logFile string, lines int) string {
	if lines <= 0 {
		lines = DefaultLogTailLines
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Sprintf("failed to open log file: %v", err)
	}
	defer file.Close()

	// Keep a ring of the last N lines / 保留最后 N 行
	tail := make([]string, 0, lines)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(tail) == lines {
			tail = tail[1:]
		}
		tail = append(tail, scanner.Text())
	}

	return strings.Join(tail, "\n")
}
