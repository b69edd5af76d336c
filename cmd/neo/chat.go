package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/guard"
	"github.com/philonis/neo/internal/agent/planner"
	"github.com/philonis/neo/internal/agent/runner"
	"github.com/philonis/neo/internal/agent/session"
	"github.com/philonis/neo/internal/logging"
)

// reflectEvery is how many interactions pass between memory compression
// and soul reflection runs.
const reflectEvery = 10

// stdin is shared between the prompt loop and the guard's confirmation
// hook; a second buffered reader would steal buffered bytes.
var stdin = bufio.NewReader(os.Stdin)

// runChat is the root command: one-shot with args, interactive without.
func runChat(args []string) {
	if !verbose {
		logging.SetQuiet(true)
	} else {
		logging.SetDebug(true)
	}

	d, err := buildAgent(appConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
		os.Exit(1)
	}
	defer d.Close()

	if _, err := d.providers.Default(); err != nil {
		fmt.Fprintln(os.Stderr, "No LLM provider configured. Set ANTHROPIC_API_KEY (or OPENAI_API_KEY,")
		fmt.Fprintf(os.Stderr, "GEMINI_API_KEY, OLLAMA_HOST) or add providers to %s/config.yaml\n", appConfig.DataDir)
		os.Exit(1)
	}

	if autoYes {
		d.guard.SetAutoConfirm(true)
	} else {
		d.guard.SetConfirmFunc(promptConfirm)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\033[33mInterrupted\033[0m")
		cancel()
	}()

	d.watchSkills(ctx)
	if err := d.schedule.Start(); err != nil {
		logging.Warnf("[CLI] scheduler not started: %v", err)
	}

	if len(args) > 0 {
		runOnce(ctx, d, strings.Join(args, " "))
		return
	}
	runInteractive(ctx, d)
}

// promptConfirm asks the user to approve a confirm-level operation.
// Anything but y/yes counts as denial.
func promptConfirm(action, target, value string) bool {
	fmt.Printf("\n\033[33m%s\033[0m [y/N] ", guard.ConfirmationMessage(action, target, value))
	line, err := stdin.ReadString('\n')
	if err != nil {
		return false
	}
	a := strings.ToLower(strings.TrimSpace(line))
	return a == "y" || a == "yes"
}

// runOnce answers a single prompt and exits.
func runOnce(ctx context.Context, d *agentDeps, prompt string) {
	if _, _, err := answer(ctx, d, prompt); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
		os.Exit(1)
	}
	fmt.Println()
}

// runInteractive is the REPL.
func runInteractive(ctx context.Context, d *agentDeps) {
	fmt.Println("\033[1mNeo\033[0m — type a message, /help for commands, Ctrl+C to exit.")
	fmt.Println()

	interactions := 0
	for {
		fmt.Print("\033[36m> \033[0m")

		line, err := stdin.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if handleCommand(d, line) {
				continue
			}
		}
		if ctx.Err() != nil {
			break
		}

		fmt.Print("\033[32m")
		response, toolNames, err := answer(ctx, d, line)
		fmt.Print("\033[0m\n\n")
		if err != nil {
			fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
			continue
		}

		if _, err := d.mem.AddInteraction(line, response, toolNames); err != nil {
			logging.Warnf("[CLI] interaction not recorded: %v", err)
		}
		interactions++
		if interactions%reflectEvery == 0 {
			housekeeping(ctx, d)
		}
	}
}

// answer routes one input: compound requests go through the planner,
// everything else streams straight from the loop.
func answer(ctx context.Context, d *agentDeps, input string) (string, []string, error) {
	if planner.ShouldDecompose(input) {
		plan := d.planner.Plan(ctx, input, recentMessages(d, 10))
		if plan.NeedDecomposition && len(plan.Tasks) > 1 {
			return runPlanned(ctx, d, plan)
		}
	}
	return runStreaming(ctx, d, input)
}

// runStreaming executes one request and prints events as they arrive.
func runStreaming(ctx context.Context, d *agentDeps, prompt string) (string, []string, error) {
	events, err := d.runner.Run(ctx, &runner.RunRequest{
		SessionKey:    sessionKey,
		Prompt:        prompt,
		ModelOverride: modelArg,
	})
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var toolNames []string
	var runErr error
	for event := range events {
		handleEvent(event, &text, &toolNames, &runErr)
	}
	return text.String(), toolNames, runErr
}

// handleEvent prints a streaming event in the CLI style.
func handleEvent(event ai.StreamEvent, text *strings.Builder, toolNames *[]string, runErr *error) {
	switch event.Type {
	case ai.EventTypeText:
		text.WriteString(event.Text)
		fmt.Print(event.Text)

	case ai.EventTypeThinking:
		if verbose {
			fmt.Printf("\033[90m[thinking] %s\033[0m", event.Text)
		}

	case ai.EventTypeToolCall:
		if event.ToolCall != nil {
			*toolNames = append(*toolNames, event.ToolCall.Name)
			if verbose {
				fmt.Printf("\n\033[33m[tool: %s]\033[0m\n", event.ToolCall.Name)
			}
		}

	case ai.EventTypeToolResult:
		if verbose {
			fmt.Printf("\033[90m%s\033[0m\n", runner.ResultBrief(event.Text))
		}

	case ai.EventTypeError:
		if event.Error != nil {
			*runErr = event.Error
		}

	case ai.EventTypeDone:
		// No output needed
	}
}

// runPlanned walks a decomposed plan step by step with progress output.
func runPlanned(ctx context.Context, d *agentDeps, plan *planner.Plan) (string, []string, error) {
	fmt.Printf("\033[0m\033[35m[Planner] %s\033[0m\n", plan.Reasoning)

	var toolNames []string
	exec := planner.NewExecutor(d.runner)
	res, err := exec.Execute(ctx, sessionKey, plan, func(task planner.Task, result *planner.TaskResult) {
		if result == nil {
			fmt.Printf("\033[35m  step %s: %s\033[0m\n", task.ID, task.Description)
			return
		}
		switch {
		case result.Skipped:
			fmt.Printf("\033[33m    %s\033[0m\n", result.Response)
		case result.Success:
			fmt.Printf("\033[32m    ok\033[0m\n")
			if task.Tool != "" {
				toolNames = append(toolNames, task.Tool)
			}
		default:
			fmt.Printf("\033[31m    failed: %s\033[0m\n", firstLineOf(result.Response))
		}
	})
	if err != nil {
		return "", nil, err
	}

	// The last successful step's reply is the answer to show.
	var final string
	for _, r := range res.Results {
		if r.Success && r.Response != "" {
			final = r.Response
		}
	}
	if final == "" {
		final = "任务未能完成，请查看上面的步骤输出。"
	}
	fmt.Printf("\033[32m%s\033[0m\n", final)
	return final, toolNames, nil
}

// recentMessages returns the tail of the current session for plan context.
func recentMessages(d *agentDeps, n int) []session.Message {
	sess, err := d.sessions.GetOrCreate(sessionKey)
	if err != nil {
		return nil
	}
	msgs, err := d.sessions.GetMessages(sess.ID, n)
	if err != nil {
		return nil
	}
	return msgs
}

// housekeeping compresses short-term memory and lets the soul reflect on
// the recent conversation.
func housekeeping(ctx context.Context, d *agentDeps) {
	provider, err := d.providers.Default()
	if err != nil {
		return
	}
	if summary, err := d.mem.Compress(ctx, provider, ""); err != nil {
		logging.Warnf("[CLI] memory compression failed: %v", err)
	} else if summary != "" && verbose {
		fmt.Printf("\033[90m[memory] %s\033[0m\n", firstLineOf(summary))
	}

	history := transcriptTail(d, 20)
	if history == "" {
		return
	}
	if _, err := d.soul.Reflect(ctx, provider, "", history); err != nil {
		logging.Warnf("[CLI] reflection failed: %v", err)
	}
}

// transcriptTail renders the last n session messages as plain text.
func transcriptTail(d *agentDeps, n int) string {
	msgs := recentMessages(d, n)
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if m.Content == "" {
			continue
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// handleCommand handles interactive slash commands.
func handleCommand(d *agentDeps, cmd string) bool {
	switch cmd {
	case "/help":
		fmt.Println(`Commands:
  /help     - Show this help
  /clear    - Clear current session
  /sessions - List all sessions
  /skills   - List loaded skills and tools
  /memory   - Show memory stats
  /status   - Show provider and agent status
  /trace    - Show the last run's execution trace
  /quit     - Exit`)
		return true

	case "/clear":
		sess, err := d.sessions.GetOrCreate(sessionKey)
		if err == nil {
			if err := d.sessions.Reset(sess.ID); err == nil {
				fmt.Println("Session cleared.")
			}
		}
		d.guard.ClearConfirmations()
		return true

	case "/sessions":
		list, _ := d.sessions.ListSessions()
		fmt.Println("Sessions:")
		for _, s := range list {
			marker := " "
			if s.SessionKey == sessionKey {
				marker = "*"
			}
			fmt.Printf("  %s %s (updated: %s)\n", marker, s.SessionKey, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return true

	case "/skills":
		printSkills(d)
		return true

	case "/memory":
		stats := d.mem.Stats()
		fmt.Printf("Memory: %d short-term, %d long-term\n", stats.ShortTerm, stats.LongTerm)
		return true

	case "/status":
		printStatus(d)
		return true

	case "/trace":
		fmt.Println(d.runner.TraceSummary())
		return true

	case "/quit", "/exit":
		os.Exit(0)
		return true
	}
	return false
}

func printSkills(d *agentDeps) {
	defs := d.registry.List()
	fmt.Printf("Tools (%d):\n", len(defs))
	for _, def := range defs {
		fmt.Printf("  %s - %s\n", def.Name, firstLineOf(def.Description))
	}
	packs := d.runner.SkillLoader().List()
	if len(packs) > 0 {
		fmt.Printf("Skill packs (%d):\n", len(packs))
		for _, sk := range packs {
			state := ""
			if !sk.Enabled {
				state = " (disabled)"
			}
			fmt.Printf("  %s%s - %s\n", sk.Name, state, sk.Description)
		}
	}
	dyn := d.manager.List()
	if len(dyn) > 0 {
		fmt.Printf("Dynamic skills (%d):\n", len(dyn))
		for _, sk := range dyn {
			fmt.Printf("  %s [%s] runs=%d failures=%d\n", sk.Name, sk.Status, sk.Runs, sk.Failures)
		}
	}
}

func printStatus(d *agentDeps) {
	ids := d.providers.IDs()
	if len(ids) == 0 {
		fmt.Println("Providers: none configured")
	} else {
		fmt.Println("Providers:")
		for _, id := range ids {
			state := "ready"
			if d.providers.InCooldown(id) {
				state = fmt.Sprintf("cooldown (%s left)", d.providers.CooldownRemaining(id).Round(time.Second))
			}
			fmt.Printf("  %s - %s\n", id, state)
		}
	}
	stats := d.mem.Stats()
	fmt.Printf("Memory: %d short-term, %d long-term\n", stats.ShortTerm, stats.LongTerm)
	fmt.Printf("Tools: %d registered\n", len(d.registry.List()))
	fmt.Printf("Session: %s\n", sessionKey)
}

func firstLineOf(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > 120 {
		return string(r[:120]) + "..."
	}
	return s
}
