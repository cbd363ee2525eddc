package usecase

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// mockController implements domain.ProcessController for testing
type mockController struct {
	mu sync.Mutex

	terminateErr error
	forceKillErr error
	suspendErr   error
	exitOnTerm   bool // WaitForExit reports exit after Terminate
	panicOnTerm  bool

	calls []string
}

func (m *mockController) note(op string, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op+":"+strconv.Itoa(pid))
}

func (m *mockController) Terminate(pid int) error {
	if m.panicOnTerm {
		panic("controller exploded")
	}
	m.note("terminate", pid)
	return m.terminateErr
}

func (m *mockController) WaitForExit(_ context.Context, pid int, _ time.Duration) (bool, error) {
	m.note("wait", pid)
	return m.exitOnTerm, nil
}

func (m *mockController) ForceKill(pid int) error {
	m.note("kill", pid)
	return m.forceKillErr
}

func (m *mockController) Suspend(pid int) error {
	m.note("suspend", pid)
	return m.suspendErr
}

func (m *mockController) Resume(pid int) error {
	m.note("resume", pid)
	return nil
}

func (m *mockController) IsRunning(int) bool { return false }

func (m *mockController) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockPrompter implements domain.Prompter for testing
type mockPrompter struct {
	secret string
	ok     bool
	err    error
	panics bool

	requests []domain.PromptRequest
}

func (m *mockPrompter) PromptSecret(_ context.Context, req domain.PromptRequest) (string, bool, error) {
	m.requests = append(m.requests, req)
	if m.panics {
		panic("prompt exploded")
	}
	return m.secret, m.ok, m.err
}

// mockVerifier implements domain.CredentialVerifier for testing
type mockVerifier struct {
	secret    string
	noSecret  bool
	hasErr    error
	verifyErr error
}

func (m *mockVerifier) HasSecret(context.Context) (bool, error) {
	if m.hasErr != nil {
		return false, m.hasErr
	}
	return !m.noSecret, nil
}

func (m *mockVerifier) Verify(_ context.Context, candidate string) (bool, error) {
	if m.verifyErr != nil {
		return false, m.verifyErr
	}
	return candidate == m.secret, nil
}

// mockSettings implements domain.SettingsStore for testing
type mockSettings struct {
	values map[string]string
	err    error
}

func (m *mockSettings) GetBool(_ context.Context, key string, def bool) (bool, error) {
	if m.err != nil {
		return def, m.err
	}
	if v, ok := m.values[key]; ok {
		return v == "true", nil
	}
	return def, nil
}

func (m *mockSettings) GetInt(_ context.Context, key string, def int) (int, error) {
	if m.err != nil {
		return def, m.err
	}
	if v, ok := m.values[key]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return def, err
		}
		return n, nil
	}
	return def, nil
}

func (m *mockSettings) SetSetting(_ context.Context, key, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func (m *mockSettings) AllSettings(context.Context) (map[string]string, error) {
	return m.values, nil
}

// mockAudit implements domain.AuditLog for testing
type mockAudit struct {
	err     error
	entries []domain.AccessLogEntry
}

func (m *mockAudit) LogAttempt(_ context.Context, e domain.AccessLogEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}
