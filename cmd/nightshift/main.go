package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ldi/nightshift/internal/agent"
	"github.com/ldi/nightshift/internal/checkpoint"
	"github.com/ldi/nightshift/internal/db"
	"github.com/ldi/nightshift/internal/gitops"
	"github.com/ldi/nightshift/internal/mcp"
	"github.com/ldi/nightshift/internal/report"
	"github.com/ldi/nightshift/internal/resolver"
	"github.com/ldi/nightshift/internal/retry"
	"github.com/ldi/nightshift/internal/server"
	"github.com/ldi/nightshift/internal/session"
	"github.com/ldi/nightshift/internal/taskfile"
	"github.com/ldi/nightshift/pkg/models"
)

var (
	dbPath        string
	exportPath    string
	checkpointDir string
)

func main() {
	flag.StringVar(&dbPath, "db-path", ".nightshift/nightshift.db", "Path to database file")
	flag.StringVar(&exportPath, "export-path", ".nightshift/queue.jsonl", "Path to queue export file")
	flag.StringVar(&checkpointDir, "checkpoint-dir", ".nightshift/checkpoints", "Directory for session checkpoints")
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "init":
		err = runInit(args)
	case "add-task":
		err = runAddTask(args)
	case "list-tasks":
		err = runListTasks(args)
	case "status":
		err = runStatus(args)
	case "run":
		err = runSession(args)
	case "resume":
		err = runResume(args)
	case "report":
		err = runReport(args)
	case "mcp":
		err = runMCP(args)
	case "web":
		err = runWeb(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: nightshift <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  init        Initialize the queue database")
	fmt.Println("  add-task    Add a task (flags or -file for YAML bulk import)")
	fmt.Println("  list-tasks  List the queue")
	fmt.Println("  status      Show queue and execution-order status")
	fmt.Println("  run         Run an unattended session over the queue")
	fmt.Println("  resume      Resume a session from its latest checkpoint")
	fmt.Println("  report      Print the summary of a finished session")
	fmt.Println("  mcp         Serve queue management over MCP (stdio)")
	fmt.Println("  web         Serve the read-only status API")
}

func openDB(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, err
	}
	database.EnableAutoExport(exportPath)
	return database, nil
}

func runInit(args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	stateDir := filepath.Join(targetDir, ".nightshift")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create .nightshift directory: %w", err)
	}
	fmt.Println("✓ Created .nightshift/ directory")

	gitignorePath := filepath.Join(stateDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("nightshift.db*\ncheckpoints/\n"), 0644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Println("✓ Created .nightshift/.gitignore")

	if dbPath == ".nightshift/nightshift.db" {
		dbPath = filepath.Join(stateDir, "nightshift.db")
	}
	if exportPath == ".nightshift/queue.jsonl" {
		exportPath = filepath.Join(stateDir, "queue.jsonl")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("✓ Initialized database at %s\n", dbPath)
	fmt.Println("✓ Nightshift initialized successfully")
	return nil
}

func runAddTask(args []string) error {
	fs := flag.NewFlagSet("add-task", flag.ContinueOnError)
	file := fs.String("file", "", "YAML task file to import")
	title := fs.String("title", "", "Task title")
	taskType := fs.String("type", "feature", "Task type (feature|bugfix|refactor|test|docs)")
	requirements := fs.String("requirements", "", "What the task must accomplish")
	priority := fs.Int("priority", 0, "Priority (higher runs earlier among ready tasks)")
	duration := fs.Int("duration", 0, "Estimated duration in minutes")
	deps := fs.String("deps", "", "Comma-separated task ids this task depends on")
	criteria := fs.String("criteria", "", "Comma-separated acceptance criteria")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if *file != "" {
		tasks, err := taskfile.Load(*file)
		if err != nil {
			return err
		}
		for i := range tasks {
			if err := database.CreateTask(ctx, &tasks[i]); err != nil {
				return fmt.Errorf("task %q: %w", tasks[i].Title, err)
			}
		}
		fmt.Printf("✓ Imported %d tasks from %s\n", len(tasks), *file)
		return nil
	}

	if *title == "" || *requirements == "" {
		return fmt.Errorf("add-task requires -title and -requirements (or -file)")
	}
	t := &models.Task{
		Title:              *title,
		Type:               models.TaskType(*taskType),
		Priority:           *priority,
		Requirements:       *requirements,
		AcceptanceCriteria: splitList(*criteria),
		EstimatedDuration:  *duration,
		Dependencies:       splitList(*deps),
		Enabled:            true,
	}
	if err := database.CreateTask(ctx, t); err != nil {
		return err
	}
	fmt.Printf("✓ Task %q added with id %s\n", t.Title, t.ID)
	return nil
}

func runListTasks(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	tasks, err := database.ListTasks(ctx, false)
	if err != nil {
		return err
	}
	fmt.Print(report.RenderQueue(deref(tasks)))
	return nil
}

func runStatus(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	tasks, err := database.ListTasks(ctx, false)
	if err != nil {
		return err
	}

	enabled := 0
	for _, t := range tasks {
		if t.Enabled {
			enabled++
		}
	}

	fmt.Println("Nightshift Queue Status")
	fmt.Println("=======================")
	fmt.Printf("Total Tasks:   %d\n", len(tasks))
	fmt.Printf("Enabled Tasks: %d\n", enabled)

	order, warnings, err := resolver.Resolve(deref(tasks))
	if err != nil {
		fmt.Printf("\nExecution order: BLOCKED\n  %v\n", err)
		return nil
	}
	for _, w := range warnings {
		fmt.Printf("  ! %s\n", w)
	}
	if len(order) > 0 {
		fmt.Println("\nExecution Order:")
		for i, t := range order {
			fmt.Printf("  %2d. %s (priority %d)\n", i+1, t.Title, t.Priority)
		}
	}
	return nil
}

func runSession(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	budget := fs.Duration("budget", 8*time.Hour, "Wall-clock budget for the session")
	workDir := fs.String("workdir", ".", "Repository the agent works in")
	model := fs.String("model", "", "Model passed to the agent CLI")
	agentBin := fs.String("agent-bin", "claude", "Agent CLI binary")
	maxRetries := fs.Int("max-retries", 3, "Retry budget per task for quota-style failures")
	baseDelay := fs.Duration("base-delay", 30*time.Second, "Base backoff delay between retries")
	dryRun := fs.Bool("dry-run", false, "Print the execution order and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	tasks, err := database.ListTasks(ctx, false)
	if err != nil {
		return err
	}
	order, warnings, err := resolver.Resolve(deref(tasks))
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if *dryRun {
		fmt.Print(report.RenderQueue(order))
		return nil
	}
	if len(order) == 0 {
		fmt.Println("Queue is empty; nothing to run.")
		return nil
	}

	sessionID := uuid.NewString()
	if err := database.CreateSession(ctx, sessionID, *budget); err != nil {
		return err
	}

	result, err := executeSession(ctx, database, sessionID, order, session.Config{
		Budget:      *budget,
		WorkDir:     *workDir,
		RetryPolicy: retryPolicy(*maxRetries, *baseDelay),
	}, *agentBin, *model)
	if err != nil {
		return err
	}
	printResult(ctx, database, result, deref(tasks))
	if !result.Succeeded() {
		return fmt.Errorf("session %s finished with failures", result.SessionID)
	}
	return nil
}

func runResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	sessionID := fs.String("session", "", "Session id to resume")
	cpPath := fs.String("checkpoint", "", "Explicit checkpoint file (defaults to the session's latest)")
	budget := fs.Duration("budget", 8*time.Hour, "Wall-clock budget including time already spent")
	workDir := fs.String("workdir", ".", "Repository the agent works in")
	model := fs.String("model", "", "Model passed to the agent CLI")
	agentBin := fs.String("agent-bin", "claude", "Agent CLI binary")
	maxRetries := fs.Int("max-retries", 3, "Retry budget per task for quota-style failures")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" && *cpPath == "" {
		return fmt.Errorf("resume requires -session or -checkpoint")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := checkpoint.NewStore(checkpointDir)
	path := *cpPath
	if path == "" {
		var err error
		if path, err = store.Latest(*sessionID); err != nil {
			return err
		}
	}
	cp, err := checkpoint.Load(path)
	if err != nil {
		return err
	}

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	tasks, err := database.ListTasks(ctx, false)
	if err != nil {
		return err
	}
	order, warnings, err := resolver.Resolve(deref(tasks))
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	remaining := session.Remaining(order, cp)
	if len(remaining) == 0 {
		fmt.Println("Nothing left to resume; all tasks are settled.")
		return nil
	}
	fmt.Printf("Resuming session %s: %d of %d tasks remaining, %s already spent\n",
		cp.SessionID, len(remaining), len(order), cp.Elapsed.Round(time.Second))

	result, err := executeSession(ctx, database, cp.SessionID, remaining, session.Config{
		Budget:       *budget,
		PriorElapsed: cp.Elapsed,
		WorkDir:      *workDir,
		RetryPolicy:  retryPolicy(*maxRetries, 30*time.Second),
	}, *agentBin, *model)
	if err != nil {
		return err
	}
	printResult(ctx, database, result, deref(tasks))
	if !result.Succeeded() {
		return fmt.Errorf("session %s finished with failures", result.SessionID)
	}
	return nil
}

// executeSession wires the boundaries into a session runner and runs it.
func executeSession(ctx context.Context, database *db.DB, sessionID string, order []models.Task, cfg session.Config, agentBin, model string) (*models.SessionResult, error) {
	store := checkpoint.NewStore(checkpointDir)

	eventDir := filepath.Join(checkpointDir, sessionID)
	if err := os.MkdirAll(eventDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	events, err := os.OpenFile(filepath.Join(eventDir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer events.Close()

	cfg.SessionID = sessionID
	cfg.Agent = agent.NewRunner(agentBin, model)
	cfg.Validator = agent.CriteriaValidator{}
	cfg.Committer = gitops.NewRepo(cfg.WorkDir, sessionID)
	cfg.Recorder = database
	cfg.Checkpoints = store
	cfg.EventLog = events

	runner, err := session.NewRunner(cfg)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, order)
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	sessionID := fs.String("session", "", "Session id to report on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("report requires -session")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	store := checkpoint.NewStore(checkpointDir)
	path, err := store.Latest(*sessionID)
	if err != nil {
		return err
	}
	cp, err := checkpoint.Load(path)
	if err != nil {
		return err
	}

	tasks, err := database.ListTasks(ctx, false)
	if err != nil {
		return err
	}

	result := &models.SessionResult{
		SessionID: cp.SessionID,
		Completed: cp.CompletedTaskIDs,
		Failed:    cp.FailedTaskIDs,
		Elapsed:   cp.Elapsed,
	}
	printResult(ctx, database, result, deref(tasks))
	return nil
}

func runMCP(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	s := mcp.NewServer(database)
	return mcp.Serve(s)
}

func runWeb(args []string) error {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	port := fs.String("port", "8600", "Port to listen on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	srv := server.NewServer(database, checkpoint.NewStore(checkpointDir))
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Serving status API on http://localhost:%s\n", *port)
	if err := srv.Start(fmt.Sprintf(":%s", *port)); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func printResult(ctx context.Context, database *db.DB, result *models.SessionResult, tasks []models.Task) {
	outcomes, err := database.ListOutcomes(ctx, result.SessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load outcomes: %v\n", err)
	}
	fmt.Print(report.Render(result, tasks, outcomes))
}

func retryPolicy(maxRetries int, baseDelay time.Duration) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = maxRetries
	p.BaseDelay = baseDelay
	return p
}

func deref(tasks []*models.Task) []models.Task {
	out := make([]models.Task, len(tasks))
	for i, t := range tasks {
		out[i] = *t
	}
	return out
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
