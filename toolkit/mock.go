package toolkit

import "context"

// MockTool is a scriptable Tool for tests.
type MockTool struct {
	NameValue string
	Result    map[string]any
	Err       error
	Calls     []map[string]any
}

// Name implements Tool.
func (m *MockTool) Name() string { return m.NameValue }

// Call implements Tool.
func (m *MockTool) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	m.Calls = append(m.Calls, args)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}
