package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/coordinator"
	"github.com/paulschiretz/pgl-appsave/pkg/hook"
	"github.com/paulschiretz/pgl-appsave/pkg/lockfile"
	"github.com/paulschiretz/pgl-appsave/pkg/metafile"
	"github.com/paulschiretz/pgl-appsave/pkg/pathcompression"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plugin"
	"github.com/paulschiretz/pgl-appsave/pkg/preflight"
	"github.com/paulschiretz/pgl-appsave/pkg/registry"
	"github.com/paulschiretz/pgl-appsave/pkg/software"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// --- Mocks ---

type staticSource []software.Software

func (s staticSource) List(ctx context.Context) ([]software.Software, error) {
	return s, nil
}

type mockHooks struct {
	mu     sync.Mutex
	calls  []string
	envs   []map[string]string
	preErr error
}

func (m *mockHooks) RunPreHook(ctx context.Context, hookName string, p *hook.Plan) error {
	m.record("pre-"+hookName, p)
	return m.preErr
}

func (m *mockHooks) RunPostHook(ctx context.Context, hookName string, p *hook.Plan) error {
	m.record("post-"+hookName, p)
	return nil
}

func (m *mockHooks) record(name string, p *hook.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	m.envs = append(m.envs, p.Env)
}

type mockHistory struct {
	mu    sync.Mutex
	saved []*task.ExecutionTask
}

func (m *mockHistory) Save(ctx context.Context, t *task.ExecutionTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, t.Clone())
	return nil
}

// --- Fixture ---

const demoDescriptor = `{
  "id": "demo",
  "name": "Demo App",
  "kind": "installer",
  "groups": [
    {"name": "Settings", "items": [
      {"kind": "file", "sourcePath": "%installDir%/settings.ini", "targetRelativePath": "settings.ini"},
      {"kind": "directory", "sourcePath": "%installDir%/profiles", "targetRelativePath": "profiles",
       "excludePatterns": ["\\.tmp$"]}
    ]},
    {"name": "Registry", "items": [
      {"kind": "registry", "sourcePath": "HKCU\\Software\\Demo", "targetRelativePath": "demo.reg"}
    ]}
  ]
}`

const demoKey = `HKCU\Software\Demo`

type fixture struct {
	base       string
	pluginDir  string
	installDir string
	reg        *registry.Memory
	hooks      *mockHooks
	history    *mockHistory
	runner     *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		base:       filepath.Join(root, "data"),
		pluginDir:  filepath.Join(root, "plugins"),
		installDir: filepath.Join(root, "apps", "demo"),
		reg:        registry.NewMemory(),
		hooks:      &mockHooks{},
		history:    &mockHistory{},
	}

	writeFile(t, filepath.Join(f.pluginDir, "demo.json"), demoDescriptor)
	writeFile(t, filepath.Join(f.pluginDir, "portable.yaml"), `
id: portable
name: Some Portable Tool
kind: portable
detection:
  paths: ["`+filepath.ToSlash(filepath.Join(root, "missing"))+`"]
groups:
  - name: Config
    items:
      - kind: file
        sourcePath: "%installDir%/tool.cfg"
        targetRelativePath: tool.cfg
`)

	writeFile(t, filepath.Join(f.installDir, "settings.ini"), "theme=dark")
	writeFile(t, filepath.Join(f.installDir, "profiles", "default.json"), `{"font":12}`)
	writeFile(t, filepath.Join(f.installDir, "profiles", "cache.tmp"), "scratch")
	f.reg.Set(demoKey, "Theme", registry.StringValue("dark"))

	installed := staticSource{{Name: "Demo App 2.1.0", NameWithoutVersion: "Demo App", InstallDir: f.installDir}}
	f.runner = NewRunner(installed, f.reg, f.hooks, f.history)
	f.runner.environ = func() map[string]string { return map[string]string{} }
	return f
}

func (f *fixture) plan(execType task.ExecType) *planner.TaskPlan {
	return &planner.TaskPlan{
		ExecType: execType,
		RunType:  task.Manual,
		Paths:    planner.Paths{Base: f.base, PluginDir: f.pluginDir},
		Batch:    planner.BatchPlan{Workers: 2, BufferSizeKB: 4},
		Preflight: &preflight.Plan{
			DataDirAccessible: true,
			DataDirWritable:   execType == task.Backup,
			BackupSetReadable: execType == task.Restore,
		},
		Hooks: &hook.Plan{
			Enabled:      true,
			PreCommands:  []string{"echo pre"},
			PostCommands: []string{"echo post"},
		},
		Compression: &planner.CompressPlan{Format: pathcompression.TarZst, Level: pathcompression.Default},
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func expectSingleSuccess(t *testing.T, tasks []*task.ExecutionTask, err error) *task.ExecutionTask {
	t.Helper()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	tk := tasks[0]
	if tk.PluginID != "demo" || tk.State != task.Finished || !tk.Success {
		t.Fatalf("expected a successful finished demo task, got %s/%s success=%v message=%q", tk.PluginID, tk.State, tk.Success, tk.Message)
	}
	return tk
}

// --- Tests ---

func TestExecute_BackupThenRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Backup
	tasks, err := f.runner.Execute(ctx, f.plan(task.Backup))
	backupTask := expectSingleSuccess(t, tasks, err)

	setDir := SetDir(f.base, "demo")
	contentDir := ContentDir(setDir)
	if backupTask.BackupPath != contentDir {
		t.Errorf("expected backup path %s, got %s", contentDir, backupTask.BackupPath)
	}
	if got := readFile(t, filepath.Join(contentDir, "settings.ini")); got != "theme=dark" {
		t.Errorf("unexpected backed up settings: %q", got)
	}
	if !exists(filepath.Join(contentDir, "profiles", "default.json")) {
		t.Error("expected profile to be backed up")
	}
	if exists(filepath.Join(contentDir, "profiles", "cache.tmp")) {
		t.Error("expected excluded file not to be backed up")
	}
	if !exists(filepath.Join(contentDir, "demo.reg")) {
		t.Error("expected registry export in backup set")
	}

	meta, err := metafile.Read(setDir)
	if err != nil {
		t.Fatalf("failed to read metafile: %v", err)
	}
	if meta.UUID != backupTask.ID || !meta.Success || meta.ItemCount != 3 || meta.InstallDir != f.installDir || meta.IsCompressed {
		t.Errorf("unexpected metafile: %+v", meta)
	}
	if exists(SetDir(f.base, "portable")) {
		t.Error("expected no backup set for the undetected plugin")
	}

	// Break the live state, then restore it.
	writeFile(t, filepath.Join(f.installDir, "settings.ini"), "theme=light")
	if err := os.RemoveAll(filepath.Join(f.installDir, "profiles")); err != nil {
		t.Fatal(err)
	}
	f.reg.Set(demoKey, "Theme", registry.StringValue("light"))

	tasks, err = f.runner.Execute(ctx, f.plan(task.Restore))
	restoreTask := expectSingleSuccess(t, tasks, err)
	if restoreTask.ExecType != task.Restore {
		t.Errorf("expected restore task, got %s", restoreTask.ExecType)
	}

	if got := readFile(t, filepath.Join(f.installDir, "settings.ini")); got != "theme=dark" {
		t.Errorf("expected settings to be restored, got %q", got)
	}
	if !exists(filepath.Join(f.installDir, "profiles", "default.json")) {
		t.Error("expected profile to be restored")
	}
	values, err := f.reg.ListValues(ctx, demoKey)
	if err != nil {
		t.Fatal(err)
	}
	if values["Theme"] != "dark" {
		t.Errorf("expected registry value to be restored, got %q", values["Theme"])
	}

	// Hooks and history
	wantCalls := []string{"pre-Backup", "post-Backup", "pre-Restore", "post-Restore"}
	if strings.Join(f.hooks.calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("expected hook calls %v, got %v", wantCalls, f.hooks.calls)
	}
	env := f.hooks.envs[0]
	if env[hook.EnvTaskID] != backupTask.ID || env[hook.EnvPluginID] != "demo" || env[hook.EnvExecType] != "backup" ||
		env[hook.EnvBackupPath] != contentDir || env[hook.EnvInstallDir] != f.installDir {
		t.Errorf("unexpected hook environment: %v", env)
	}
	if len(f.history.saved) != 2 || f.history.saved[0].ID != backupTask.ID || f.history.saved[1].ID != restoreTask.ID {
		t.Errorf("expected both tasks in history, got %d entries", len(f.history.saved))
	}
}

func TestExecute_CompressedBackupSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.plan(task.Backup)
	p.Compression.Enabled = true
	tasks, err := f.runner.Execute(ctx, p)
	expectSingleSuccess(t, tasks, err)

	setDir := SetDir(f.base, "demo")
	archive := ArchivePath(setDir, pathcompression.TarZst)
	if !exists(archive) {
		t.Fatalf("expected archive %s", archive)
	}
	if exists(ContentDir(setDir)) {
		t.Error("expected content directory to be removed after compression")
	}
	meta, err := metafile.Read(setDir)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.IsCompressed || meta.CompressionFormat != "tar.zst" {
		t.Errorf("expected compressed metafile, got %+v", meta)
	}

	writeFile(t, filepath.Join(f.installDir, "settings.ini"), "theme=light")
	tasks, err = f.runner.Execute(ctx, f.plan(task.Restore))
	expectSingleSuccess(t, tasks, err)
	if got := readFile(t, filepath.Join(f.installDir, "settings.ini")); got != "theme=dark" {
		t.Errorf("expected settings to be restored from archive, got %q", got)
	}
	if exists(ContentDir(setDir)) {
		t.Error("expected extracted content to be removed after restore")
	}
	if !exists(archive) {
		t.Error("expected archive to survive the restore")
	}

	// A later uncompressed backup drops the stale archive.
	tasks, err = f.runner.Execute(ctx, f.plan(task.Backup))
	expectSingleSuccess(t, tasks, err)
	if exists(archive) {
		t.Error("expected stale archive to be removed")
	}
	if !exists(filepath.Join(ContentDir(setDir), "settings.ini")) {
		t.Error("expected uncompressed content")
	}
}

func TestExecute_PluginSelection(t *testing.T) {
	tests := []struct {
		name          string
		plugins       []string
		expectTasks   int
		errorContains string
	}{
		{name: "All eligible", plugins: nil, expectTasks: 1},
		{name: "Explicit installed plugin", plugins: []string{"demo"}, expectTasks: 1},
		{name: "Explicit plugin not installed", plugins: []string{"portable"}, expectTasks: 0},
		{name: "Unknown plugin", plugins: []string{"nope"}, errorContains: "unknown plugin"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.plan(task.Backup)
			p.Plugins = tc.plugins

			tasks, err := f.runner.Execute(context.Background(), p)
			if tc.errorContains != "" {
				if err == nil || !strings.Contains(err.Error(), tc.errorContains) {
					t.Fatalf("expected error containing %q, got %v", tc.errorContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(tasks) != tc.expectTasks {
				t.Errorf("expected %d tasks, got %d", tc.expectTasks, len(tasks))
			}
		})
	}
}

func TestExecute_CustomPluginUsesInstallDirs(t *testing.T) {
	f := newFixture(t)
	customDir := filepath.Join(t.TempDir(), "custom")
	writeFile(t, filepath.Join(customDir, "custom.cfg"), "x=1")
	writeFile(t, filepath.Join(f.pluginDir, "custom.yaml"), `
id: custom
name: My Scripts
kind: custom
groups:
  - name: Config
    items:
      - kind: file
        sourcePath: "%installDir%/custom.cfg"
        targetRelativePath: custom.cfg
`)

	p := f.plan(task.Backup)
	p.Plugins = []string{"custom"}
	p.InstallDirs = map[string]string{"custom": customDir}
	tasks, err := f.runner.Execute(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || !tasks[0].Success || tasks[0].InstallDir != customDir {
		t.Fatalf("expected one successful custom task, got %+v", tasks)
	}
	if got := readFile(t, filepath.Join(ContentDir(SetDir(f.base, "custom")), "custom.cfg")); got != "x=1" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestExecute_BrokenDescriptor(t *testing.T) {
	for _, failFast := range []bool{false, true} {
		f := newFixture(t)
		writeFile(t, filepath.Join(f.pluginDir, "broken.json"), `{"id": "broken"}`)
		p := f.plan(task.Backup)
		p.FailFast = failFast

		tasks, err := f.runner.Execute(context.Background(), p)
		if failFast {
			if err == nil {
				t.Error("expected fail-fast run to stop on a broken descriptor")
			}
			continue
		}
		expectSingleSuccess(t, tasks, err)
	}
}

func TestExecute_PreHookFailureAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.hooks.preErr = errors.New("service still running")

	tasks, err := f.runner.Execute(context.Background(), f.plan(task.Backup))
	if err == nil || !strings.Contains(err.Error(), "pre-backup hook failed for demo") {
		t.Fatalf("expected pre hook failure, got %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(tasks))
	}
	if exists(SetDir(f.base, "demo")) {
		t.Error("expected no backup set after an aborted run")
	}
	if len(f.history.saved) != 0 {
		t.Error("expected nothing recorded in history")
	}
}

func TestExecute_HintHookErrorsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.hooks.preErr = hook.ErrNothingToExecute

	tasks, err := f.runner.Execute(context.Background(), f.plan(task.Backup))
	expectSingleSuccess(t, tasks, err)
}

func TestExecute_RestoreWithoutBackupSet(t *testing.T) {
	f := newFixture(t)
	if err := os.MkdirAll(f.base, 0755); err != nil {
		t.Fatal(err)
	}
	tasks, err := f.runner.Execute(context.Background(), f.plan(task.Restore))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected no restore tasks, got %d", len(tasks))
	}
}

func TestExecute_RestoreFallsBackToRecordedInstallDir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks, err := f.runner.Execute(ctx, f.plan(task.Backup))
	expectSingleSuccess(t, tasks, err)

	// The software is no longer reported as installed.
	f.runner.source = staticSource{}
	writeFile(t, filepath.Join(f.installDir, "settings.ini"), "theme=light")

	tasks, err = f.runner.Execute(ctx, f.plan(task.Restore))
	restored := expectSingleSuccess(t, tasks, err)
	if restored.InstallDir != f.installDir {
		t.Errorf("expected recorded install dir %s, got %s", f.installDir, restored.InstallDir)
	}
	if got := readFile(t, filepath.Join(f.installDir, "settings.ini")); got != "theme=dark" {
		t.Errorf("expected settings to be restored, got %q", got)
	}
}

func TestExecute_DryRun(t *testing.T) {
	f := newFixture(t)
	p := f.plan(task.Backup)
	p.DryRun = true
	p.Preflight.DryRun = true
	p.Compression.Enabled = true

	tasks, err := f.runner.Execute(context.Background(), p)
	expectSingleSuccess(t, tasks, err)
	if exists(SetDir(f.base, "demo")) {
		t.Error("expected dry run not to create a backup set")
	}
}

func TestExecute_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Execute(ctx, f.plan(task.Backup))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestExecute_LockedBackupSet(t *testing.T) {
	f := newFixture(t)
	setDir := SetDir(f.base, "demo")
	if err := os.MkdirAll(setDir, 0755); err != nil {
		t.Fatal(err)
	}
	held, err := lockfile.Acquire(context.Background(), setDir, "other run")
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	tasks, err := f.runner.Execute(context.Background(), f.plan(task.Backup))
	if err != nil {
		t.Fatalf("expected the locked plugin to be skipped, got %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected no tasks for a locked set, got %d", len(tasks))
	}

	p := f.plan(task.Backup)
	p.FailFast = true
	if _, err := f.runner.Execute(context.Background(), p); err == nil {
		t.Error("expected an error for a locked set under fail-fast")
	}
}

// blockingRegistry holds every export until its context ends.
type blockingRegistry struct {
	*registry.Memory
	entered chan struct{}
}

func (b blockingRegistry) ExportKey(ctx context.Context, keyPath, destFile string) (int64, error) {
	close(b.entered)
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestRunner_Stop(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	f.runner.registry = blockingRegistry{Memory: f.reg, entered: entered}

	done := make(chan []*task.ExecutionTask, 1)
	go func() {
		tasks, err := f.runner.Execute(context.Background(), f.plan(task.Backup))
		if err != nil {
			t.Errorf("Execute failed: %v", err)
		}
		done <- tasks
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("registry export was never reached")
	}
	running := f.runner.Running()
	if len(running) != 1 {
		t.Fatalf("expected one running task, got %v", running)
	}
	if err := f.runner.Stop(running[0]); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	tasks := <-done
	if len(tasks) != 1 || tasks[0].State != task.Stopped {
		t.Fatalf("expected one stopped task, got %+v", tasks)
	}
	if err := f.runner.Stop(running[0]); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound for a finished task, got %v", err)
	}
	if len(f.history.saved) != 1 {
		t.Errorf("expected the stopped task to be recorded, got %d", len(f.history.saved))
	}
}

func TestExecute_EventStream(t *testing.T) {
	f := newFixture(t)
	p := f.plan(task.Backup)
	p.EventsPath = filepath.Join(t.TempDir(), "events.ndjson")

	tasks, err := f.runner.Execute(context.Background(), p)
	tk := expectSingleSuccess(t, tasks, err)

	file, err := os.Open(p.EventsPath)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var events []coordinator.Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev coordinator.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid event line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) < 2 {
		t.Fatalf("expected events, got %d", len(events))
	}

	itemEvents := 0
	for _, ev := range events {
		if ev.TaskID != tk.ID {
			t.Errorf("unexpected task id %q in event", ev.TaskID)
		}
		if ev.Type == coordinator.EventItemFinished {
			itemEvents++
		}
	}
	if itemEvents != 3 {
		t.Errorf("expected 3 item events, got %d", itemEvents)
	}
	first, last := events[0], events[len(events)-1]
	if first.Type != coordinator.EventState || first.State != task.Running {
		t.Errorf("expected first event to be the running state, got %+v", first)
	}
	if last.Type != coordinator.EventState || last.State != task.Finished || !last.Success || last.Current != 3 {
		t.Errorf("expected last event to be the finished state, got %+v", last)
	}
}

func TestExecuteResume(t *testing.T) {
	f := newFixture(t)
	desc, err := plugin.Load(filepath.Join(f.pluginDir, "demo.json"))
	if err != nil {
		t.Fatal(err)
	}

	// A backup stopped after its first item.
	stored := coordinator.NewTask(desc, task.Backup, task.Manual, ContentDir(SetDir(f.base, "demo")), f.installDir)
	stored.State = task.Stopped
	stored.Message = task.ErrCancelled.Error()
	first := &stored.TaskResults[0].Items[0]
	first.Finished = true
	first.Success = true
	first.SizeBytes = 10
	stored.CurrentProgress = 1

	t.Run("Partial", func(t *testing.T) {
		resumed, err := f.runner.ExecuteResume(context.Background(), f.plan(task.Backup), stored, false)
		if err != nil {
			t.Fatalf("ExecuteResume failed: %v", err)
		}
		if resumed.ID != stored.ID || resumed.State != task.Finished || !resumed.Success || resumed.CurrentProgress != 3 {
			t.Fatalf("unexpected resumed task: %s state=%s success=%v progress=%d", resumed.ID, resumed.State, resumed.Success, resumed.CurrentProgress)
		}
		contentDir := ContentDir(SetDir(f.base, "demo"))
		if exists(filepath.Join(contentDir, "settings.ini")) {
			t.Error("expected the recorded item not to run again")
		}
		if !exists(filepath.Join(contentDir, "demo.reg")) {
			t.Error("expected the remaining items to run")
		}
		if stored.State != task.Stopped {
			t.Error("expected the stored task to be left untouched")
		}
	})

	t.Run("Full", func(t *testing.T) {
		resumed, err := f.runner.ExecuteResume(context.Background(), f.plan(task.Backup), stored, true)
		if err != nil {
			t.Fatalf("ExecuteResume failed: %v", err)
		}
		if !resumed.Success {
			t.Fatalf("expected success, got %q", resumed.Message)
		}
		if !exists(filepath.Join(ContentDir(SetDir(f.base, "demo")), "settings.ini")) {
			t.Error("expected a full resume to run every item")
		}
	})

	t.Run("Wrong exec type", func(t *testing.T) {
		if _, err := f.runner.ExecuteResume(context.Background(), f.plan(task.Restore), stored, false); err == nil {
			t.Error("expected an error for a mismatching plan")
		}
	})

	t.Run("Plugin changed since the stop", func(t *testing.T) {
		// Recorded before the second settings item was added to the plugin.
		changed := stored.Clone()
		changed.TaskResults[0].Items = changed.TaskResults[0].Items[:1]
		changed.TotalProgress = 2

		if _, err := f.runner.ExecuteResume(context.Background(), f.plan(task.Backup), changed, false); !errors.Is(err, task.ErrResultsMismatch) {
			t.Fatalf("expected ErrResultsMismatch for a partial resume, got %v", err)
		}

		resumed, err := f.runner.ExecuteResume(context.Background(), f.plan(task.Backup), changed, true)
		if err != nil {
			t.Fatalf("expected a full restart to rebuild the results, got %v", err)
		}
		if !resumed.Success || resumed.TotalProgress != 3 || resumed.CurrentProgress != 3 || len(resumed.TaskResults[0].Items) != 2 {
			t.Errorf("unexpected rebuilt task: success=%v progress=%d/%d", resumed.Success, resumed.CurrentProgress, resumed.TotalProgress)
		}
	})

	t.Run("Finished task needs full", func(t *testing.T) {
		done := stored.Clone()
		done.State = task.Finished
		if _, err := f.runner.ExecuteResume(context.Background(), f.plan(task.Backup), done, false); err == nil {
			t.Error("expected partial resume of a finished task to fail")
		}
	})
}

func TestListBackupSets(t *testing.T) {
	base := t.TempDir()
	now := time.Now().UTC()
	for i, id := range []string{"older", "newest", "middle"} {
		dir := SetDir(base, id)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		offsets := []time.Duration{-2 * time.Hour, 0, -time.Hour}
		meta := metafile.MetafileContent{PluginID: id, TimestampUTC: now.Add(offsets[i])}
		if err := metafile.Write(dir, &meta); err != nil {
			t.Fatal(err)
		}
	}
	// Not backup sets.
	if err := os.MkdirAll(filepath.Join(base, "plugins"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(base, "pgl-appsave.config.json"), "{}")

	tests := []struct {
		order planner.SortOrder
		want  string
	}{
		{planner.Desc, "newest,middle,older"},
		{planner.Asc, "older,middle,newest"},
	}
	for _, tc := range tests {
		t.Run(tc.order.String(), func(t *testing.T) {
			sets, err := ListBackupSets(context.Background(), base, tc.order)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, s := range sets {
				ids = append(ids, s.Meta.PluginID)
			}
			if got := strings.Join(ids, ","); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}

	t.Run("Missing base", func(t *testing.T) {
		sets, err := ListBackupSets(context.Background(), filepath.Join(base, "missing"), planner.Desc)
		if err != nil || len(sets) != 0 {
			t.Errorf("expected empty list, got %v, %v", sets, err)
		}
	})
}
