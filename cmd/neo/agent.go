package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/guard"
	"github.com/philonis/neo/internal/agent/memory"
	"github.com/philonis/neo/internal/agent/planner"
	"github.com/philonis/neo/internal/agent/runner"
	"github.com/philonis/neo/internal/agent/session"
	"github.com/philonis/neo/internal/agent/skills"
	"github.com/philonis/neo/internal/agent/tools"
	"github.com/philonis/neo/internal/browser"
	"github.com/philonis/neo/internal/config"
	"github.com/philonis/neo/internal/credential"
	"github.com/philonis/neo/internal/db"
	"github.com/philonis/neo/internal/logging"
	"github.com/philonis/neo/internal/notify"
)

// agentDeps bundles every component a command needs to run the assistant.
// buildAgent wires them once; Close releases them in reverse order.
type agentDeps struct {
	cfg       *config.Config
	store     *db.Store
	sessions  *session.Manager
	providers *ai.Registry
	registry  *tools.Registry
	manager   *skills.Manager
	guard     *guard.Guard
	codeGuard *guard.CodeGuard
	mem       *memory.Memory
	soul      *memory.Soul
	runner    *runner.Runner
	planner   *planner.Planner
	schedule  *tools.ScheduleTool
	browser   *browser.Controller
	audit     *db.AuditStore
	settings  *db.SettingStore
}

func buildAgent(cfg *config.Config) (*agentDeps, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sessions := session.NewFromStore(store)
	providers := ai.NewRegistry(cfg.Providers)
	auditStore := db.NewAuditStore(store)

	g := guard.New(guard.Options{
		AutoConfirm: cfg.Guard.AutoConfirm,
		AuditDir:    cfg.Guard.AuditDir,
		Store:       auditStore,
	})

	level, err := guard.ParseModificationLevel(cfg.Guard.CodeGuardLevel)
	if err != nil {
		store.Close()
		return nil, err
	}
	codeGuard, err := guard.NewCodeGuard(cfg.DataDir, level)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("code guard: %w", err)
	}

	// Credentials decrypt with the machine's master key; browser logins
	// look them up by domain.
	var credMgr *credential.Manager
	if key, err := credential.LoadKey(cfg.DataDir); err != nil {
		logging.Warnf("[CLI] credential store unavailable: %v", err)
	} else {
		credMgr = credential.NewManager(db.NewCredentialStore(store), key)
	}

	ttl := time.Duration(cfg.Browser.SessionTTLDays) * 24 * time.Hour
	browserSessions := browser.NewSessions(
		filepath.Join(cfg.Browser.UserDataDir, "sessions"),
		db.NewBrowserSessionStore(store),
		ttl,
	)
	var credSource browser.CredentialSource
	if credMgr != nil {
		credSource = credMgr
	}
	ctrl := browser.New(browser.Config{
		Headless:   cfg.Browser.Headless,
		DataDir:    cfg.Browser.UserDataDir,
		SessionTTL: ttl,
	}, browserSessions, credSource)

	sandbox := skills.NewSandbox(cfg.Sandbox.Python, time.Duration(cfg.Sandbox.TimeoutSeconds)*time.Second)
	manager := skills.NewManager(cfg.Skills.DynamicDir, sandbox, db.NewDynamicSkillStore(store))
	if n, err := manager.LoadAll(context.Background()); err != nil {
		logging.Warnf("[CLI] dynamic skills not loaded: %v", err)
	} else if n > 0 {
		logging.Infof("[CLI] loaded %d dynamic skill(s)", n)
	}

	genProvider, _ := providers.Default()
	generator := skills.NewGenerator(genProvider, "", manager, codeGuard)

	mem, err := memory.New(db.NewMemoryStore(store), cfg.Memory.MaxShortTerm)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("memory: %w", err)
	}
	soul, err := memory.NewSoul(filepath.Join(cfg.DataDir, "soul"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("soul: %w", err)
	}

	registry := tools.NewRegistry(nil)
	scheduleTool := tools.NewScheduleTool(db.NewScheduleStore(store), nil)
	for _, tool := range []tools.Tool{
		tools.NewSearchTool(),
		tools.NewHTTPTool(),
		tools.NewWeatherTool(),
		tools.NewNotesTool(g),
		tools.NewDesktopTool(g),
		tools.NewBrowserTool(g, ctrl, credMgr),
		tools.NewMemoryTool(mem),
		tools.NewCreateSkillTool(generator),
		tools.NewCodeGuardTool(codeGuard),
		scheduleTool,
	} {
		if err := registry.Register(tool); err != nil {
			logging.Warnf("[CLI] tool %s not registered: %v", tool.Name(), err)
		}
	}
	tools.SyncDynamic(registry, manager)

	run := runner.New(cfg, sessions, providers, registry)
	run.SetMemory(mem)
	run.SetSoul(soul)
	run.SetFuzzyMatcher(ai.NewFuzzyMatcher(cfg.Providers))

	// Scheduled prompts re-enter the agent through the same loop,
	// one session per schedule. Results surface as desktop notifications
	// since nobody is watching a terminal when the cron fires.
	scheduleTool.SetRunFunc(func(ctx context.Context, name, prompt string) (string, error) {
		res, err := run.RunSync(ctx, &runner.RunRequest{
			SessionKey: "schedule:" + name,
			Prompt:     prompt,
		})
		if err != nil {
			notify.Send("Neo · "+name, "任务执行出错: "+err.Error())
			return "", err
		}
		if !res.Success {
			notify.Send("Neo · "+name, "任务未完成")
			return res.Response, fmt.Errorf("scheduled run failed")
		}
		notify.Send("Neo · "+name, res.Response)
		return res.Response, nil
	})

	return &agentDeps{
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		providers: providers,
		registry:  registry,
		manager:   manager,
		guard:     g,
		codeGuard: codeGuard,
		mem:       mem,
		soul:      soul,
		runner:    run,
		planner:   planner.New(providers, registry),
		schedule:  scheduleTool,
		browser:   ctrl,
		audit:     auditStore,
		settings:  db.NewSettingStore(store),
	}, nil
}

// watchSkills hot-reloads markdown skill packs while ctx lives.
func (d *agentDeps) watchSkills(ctx context.Context) {
	if !d.cfg.Skills.AutoReload {
		return
	}
	if err := d.runner.SkillLoader().Watch(ctx); err != nil {
		logging.Warnf("[CLI] skill watcher not started: %v", err)
	}
}

// Close flushes the audit trail and releases everything buildAgent opened.
func (d *agentDeps) Close() {
	d.schedule.Close()
	if _, err := d.guard.FlushAudit(); err != nil {
		logging.Warnf("[CLI] audit flush failed: %v", err)
	}
	if err := d.browser.Close(); err != nil {
		logging.Warnf("[CLI] browser close: %v", err)
	}
	d.runner.SkillLoader().Stop()
	if err := d.store.Close(); err != nil {
		logging.Warnf("[CLI] database close: %v", err)
	}
}
