package deploy

import (
	"context"
	"strings"
	"sync"
)

// memorySink records appended progress text for assertions.
type memorySink struct {
	mu    sync.Mutex
	lines []string
}

func (s *memorySink) Append(text string, kind StreamKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
}

func (s *memorySink) contains(sub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

func (s *memorySink) all() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "\n")
}

// fakeBridge substitutes the adb transport. Unset hooks succeed with
// zero values.
type fakeBridge struct {
	devicesFn func(ctx context.Context) ([]Device, error)
	pushFn    func(serial, localPath, remotePath string) error
	shellFn   func(ctx context.Context, serial, command string, recv LineReceiver) error
	clientFn  func(serial, pkg string) (*Client, error)
	clearFn   func(serial string) error
	verifyFn  func() error
}

func (b *fakeBridge) Devices(ctx context.Context) ([]Device, error) {
	if b.devicesFn != nil {
		return b.devicesFn(ctx)
	}
	return nil, nil
}

func (b *fakeBridge) Push(ctx context.Context, serial, localPath, remotePath string) error {
	if b.pushFn != nil {
		return b.pushFn(serial, localPath, remotePath)
	}
	return nil
}

func (b *fakeBridge) Shell(ctx context.Context, serial, command string, recv LineReceiver) error {
	if b.shellFn != nil {
		return b.shellFn(ctx, serial, command, recv)
	}
	return nil
}

func (b *fakeBridge) Client(ctx context.Context, serial, pkg string) (*Client, error) {
	if b.clientFn != nil {
		return b.clientFn(serial, pkg)
	}
	return nil, nil
}

func (b *fakeBridge) ClearLogs(ctx context.Context, serial string) error {
	if b.clearFn != nil {
		return b.clearFn(serial)
	}
	return nil
}

func (b *fakeBridge) Verify(ctx context.Context) error {
	if b.verifyFn != nil {
		return b.verifyFn()
	}
	return nil
}

// stubMetadata is a canned PackageMetadataSource.
type stubMetadata struct {
	main    string
	modules map[string]*ModuleInfo
}

func (s *stubMetadata) MainModule() string { return s.main }

func (s *stubMetadata) Module(name string) (*ModuleInfo, error) {
	if m, ok := s.modules[name]; ok {
		return m, nil
	}
	return nil, &ManifestError{Module: name, Missing: true}
}
